package sip

import (
	"context"
	"log/slog"
)

func (tx *Transaction) clientEvent(fired int) *Event {
	switch tx.state {
	case TransactionInitial:
		e := newEvent(tx.first, tx)
		if tx.changeState(TransactionTrying) {
			if !partyReliable(tx.first) {
				tx.setTimeout(tx.engine.Timer(tx.pick('A', 'E'), false), tx.transCount)
			} else {
				tx.setTimeout(tx.engine.Timer(tx.pick('B', 'F'), true), 1)
			}
		}
		return e
	case TransactionTrying:
		switch {
		case fired > 0:
			tx.engine.Metrics().retransmitted(tx.kind)
			tx.transmit = true
		case fired == 0:
			tx.timedOut()
		}
	case TransactionProcess:
		if fired == 0 {
			tx.timedOut()
		}
	}
	return nil
}

func (tx *Transaction) timedOut() {
	tx.log.LogAttrs(context.Background(), slog.LevelDebug, "transaction timed out",
		slog.Any("transaction", tx),
		slog.String("state", tx.state.String()),
	)
	tx.engine.Metrics().timedOut(tx.kind)
	tx.response = StatusRequestTimeout
	tx.changeState(TransactionCleared)
}

func (tx *Transaction) pick(invite, nonInvite rune) rune {
	if tx.invite {
		return invite
	}
	return nonInvite
}

func (tx *Transaction) processClientMessage(msg Message) {
	code := msg.Code()
	final := code >= 200
	switch tx.state {
	case TransactionTrying:
		tx.setTimeout(tx.engine.Timer(tx.pick('B', 'F'), partyReliable(tx.first)), 1)
		tx.response = code
		if code == StatusTrying {
			return
		}
		tx.changeState(TransactionProcess)
		fallthrough
	case TransactionProcess:
		if code <= StatusTrying {
			return
		}
		tx.setLatestMessage(msg)
		if tx.tryAutoAuth(msg) {
			return
		}
		if tx.invite && !final {
			// waiting for a human to answer
			tx.setTimeout(tx.engine.UserTimeout(), 1)
		}
		tx.response = code
		tx.setPendingEvent(newEvent(msg, tx), final)
		if !final {
			return
		}
		tx.timer.disarm()
		if tx.invite {
			tx.sendACK(msg)
			if tx.changeState(TransactionFinish) {
				tx.setTimeout(tx.engine.Timer('H', partyReliable(tx.first)), 1)
			}
		} else {
			tx.changeState(TransactionCleared)
		}
	case TransactionFinish:
		// duplicate final answer, the ACK was lost
		if tx.last != nil && tx.last.IsACK() && final {
			tx.engine.Metrics().retransmitted(tx.kind)
			tx.transmit = true
		}
	}
}

func (tx *Transaction) sendACK(answer Message) {
	ack := tx.first.BuildACK(answer)
	if tx.engine.AutoChangeParty() && answer.Party() != nil {
		ack.SetParty(answer.Party())
	}
	tx.setLatestMessage(ack)
	tx.transmit = true
}
