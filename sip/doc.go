// Package sip implements the SIP transaction layer, RFC 3261 section 17.
//
// Transactions do not run by themselves. An [Engine] keeps them in an ordered
// registry, matches received and locally created messages to them and polls
// them for events:
//
//	eng := sip.NewEngine(&sip.EngineOptions{AllowedMethods: []string{"INVITE", "BYE", "OPTIONS"}})
//	eng.OnEvent(func(ctx context.Context, ev *sip.Event) bool {
//		if ev.IsIncoming() && ev.State() == sip.TransactionTrying {
//			return ev.Transaction().SetResponseCode(sip.StatusOK, "")
//		}
//		return false
//	})
//	go eng.ServePacket(ctx, conn)
//	eng.Run(ctx)
//
// Every poll returns at most one event: a message to send through its
// [Party], a received message for the application, or the final event of a
// concluded transaction. Retransmissions and timeouts are driven by the
// engine clock at poll time.
package sip
