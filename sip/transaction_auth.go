package sip

import (
	"context"
	"log/slog"
)

// tryAutoAuth answers a 401/407 challenge when the request carries credentials.
//
// The transaction turns into a challenge absorber: it keeps its identity,
// ACKs the challenge (INVITE), lingers in Finish swallowing duplicates and never
// delivers the challenge upward. A new transaction owns the authenticated copy
// of the request and starts from Initial.
func (tx *Transaction) tryAutoAuth(answer Message) bool {
	code := answer.Code()
	if code != StatusUnauthorized && code != StatusProxyAuthenticationRequired {
		return false
	}
	if tx.absorber || tx.authRetry != nil {
		return false
	}
	if _, _, ok := tx.first.AuthCredentials(); !ok {
		return false
	}

	ctx := context.Background()
	name, value, ok := tx.engine.BuildAuth(answer, tx.first)
	if !ok {
		tx.log.LogAttrs(ctx, slog.LevelInfo, "transaction can not answer the challenge",
			slog.Any("transaction", tx),
			slog.Int("code", code),
		)
		return false
	}

	req := tx.first.CloneForRetry()
	req.AddHeader(name, value)
	retry := newTransaction(tx.engine, req, true, TransactionInitial)
	retry.transCount = tx.transCount
	retry.userData = tx.userData

	tx.authRetry = retry
	tx.absorber = true
	tx.timer.disarm()
	if tx.invite {
		tx.sendACK(answer)
		if tx.changeState(TransactionFinish) {
			tx.setTimeout(tx.engine.Timer('H', partyReliable(tx.first)), 1)
		}
	} else if tx.changeState(TransactionFinish) {
		tx.setTimeout(tx.engine.Timer('K', partyReliable(tx.first)), 1)
	}

	// the new INVITE goes first, unless the ACK must be sent before it
	if tx.engine.AckAfterNewInvite() {
		tx.engine.Append(retry)
	} else {
		tx.engine.InsertBefore(retry, tx)
	}
	tx.engine.Metrics().authRetried(tx.kind)
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction retrying with authentication",
		slog.Any("transaction", tx),
		slog.Any("retry", retry),
	)
	return true
}

// Fork creates a sibling client transaction for a forked dialog identified by tag.
//
// The sibling shares branch and Call-ID, starts in Process with Timer B armed
// and is registered at the head of the engine registry, or at its tail when
// the engine preserves transaction order. It returns nil for server
// transactions and empty tags.
func (tx *Transaction) Fork(tag string) *Transaction {
	if !tx.outgoing || tag == "" {
		return nil
	}

	tx.mu.Lock()
	sib := &Transaction{
		engine:     tx.engine,
		log:        tx.log,
		outgoing:   true,
		invite:     tx.invite,
		branch:     tx.branch,
		callID:     tx.callID,
		method:     tx.method,
		uri:        tx.uri,
		first:      tx.first.Clone(),
		kind:       tx.kind,
		state:      TransactionProcess,
		tag:        tag,
		response:   tx.response,
		transCount: tx.transCount,
		userData:   tx.userData,
	}
	tx.mu.Unlock()

	sib.fsm = sib.newStateGuard()
	sib.setTimeout(sib.engine.Timer('B', partyReliable(sib.first)), 1)
	sib.engine.Metrics().txCreated(sib.kind)
	sib.engine.Metrics().forkedTx()

	if sib.engine.PreserveTransactionOrder() {
		sib.engine.Append(sib)
	} else {
		sib.engine.InsertBefore(sib, nil)
	}
	sib.log.LogAttrs(context.Background(), slog.LevelDebug, "transaction forked",
		slog.Any("transaction", tx),
		slog.String("tag", tag),
	)
	return sib
}
