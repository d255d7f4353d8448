package sip

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/ghettovoice/sipengine/internal/log"
)

// Event pairs a message with the transaction that produced it.
//
// An event is delivered exactly once, either for sending (outgoing message)
// or to the application (incoming message, or the final event of a concluded
// transaction). The receiver must call [Event.Release] when done with it.
type Event struct {
	msg      Message
	tx       *Transaction
	state    TransactionState
	released atomic.Bool
}

func newEvent(msg Message, tx *Transaction) *Event {
	return &Event{msg: msg, tx: tx, state: tx.state}
}

// Message returns the event message.
func (e *Event) Message() Message { return e.msg }

// Transaction returns the transaction that produced the event.
func (e *Event) Transaction() *Transaction { return e.tx }

// State returns the transaction state at the moment the event was created.
func (e *Event) State() TransactionState { return e.state }

func (e *Event) IsOutgoing() bool { return e.msg != nil && e.msg.IsOutgoing() }

func (e *Event) IsIncoming() bool { return e.msg != nil && !e.msg.IsOutgoing() }

// Party returns the party of the event message.
func (e *Event) Party() Party {
	if e.msg == nil {
		return nil
	}
	return e.msg.Party()
}

// Release marks the event as consumed.
// Releasing twice is a caller bug, it is logged and otherwise ignored.
func (e *Event) Release() {
	if e == nil {
		return
	}
	if !e.released.CompareAndSwap(false, true) {
		logger := log.Default()
		if e.tx != nil {
			logger = e.tx.log
		}
		logger.LogAttrs(context.Background(), slog.LevelWarn, "event released twice", slog.Any("event", e))
	}
}

// Released reports whether [Event.Release] was called.
func (e *Event) Released() bool { return e.released.Load() }

func (e *Event) LogValue() slog.Value {
	if e == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.String("state", e.state.String()),
		slog.Bool("outgoing", e.IsOutgoing()),
	}
	if e.msg != nil {
		attrs = append(attrs, slog.Any("message", e.msg))
	}
	if e.tx != nil {
		attrs = append(attrs, slog.Any("transaction", e.tx))
	}
	return slog.GroupValue(attrs...)
}
