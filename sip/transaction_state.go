package sip

import (
	"context"
	"log/slog"

	"github.com/qmuntal/stateless"
)

// TransactionState is the state of a [Transaction].
//
// States only move forward in declaration order, except [TransactionInvalid]
// which is reachable from every state and is terminal.
type TransactionState int

const (
	// TransactionInvalid is the terminal state, nothing is produced anymore.
	TransactionInvalid TransactionState = iota
	// TransactionInitial means nothing was sent yet.
	TransactionInitial
	// TransactionTrying means the request was sent (client) or accepted with a 100 queued (server).
	TransactionTrying
	// TransactionProcess means a provisional response was seen (client)
	// or the request waits for the application (server).
	TransactionProcess
	// TransactionRetrans means a final response is retransmitted waiting for the ACK (server INVITE).
	TransactionRetrans
	// TransactionFinish means the final exchange completed, late duplicates are absorbed.
	TransactionFinish
	// TransactionCleared means the exchange concluded and one last event is due.
	TransactionCleared
)

func (s TransactionState) String() string {
	switch s {
	case TransactionInvalid:
		return "Invalid"
	case TransactionInitial:
		return "Initial"
	case TransactionTrying:
		return "Trying"
	case TransactionProcess:
		return "Process"
	case TransactionRetrans:
		return "Retrans"
	case TransactionFinish:
		return "Finish"
	case TransactionCleared:
		return "Cleared"
	default:
		return "Undefined"
	}
}

// IsTerminal reports whether the state produces no further protocol activity.
func (s TransactionState) IsTerminal() bool {
	return s == TransactionInvalid || s == TransactionCleared
}

// triggers are named after their destination state
type stateTrigger TransactionState

func (t stateTrigger) String() string { return "to_" + TransactionState(t).String() }

// newStateGuard builds the transition table over the transaction state field.
// The caller must hold the transaction lock while firing.
func (tx *Transaction) newStateGuard() *stateless.StateMachine {
	fsm := stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) { return tx.state, nil },
		func(_ context.Context, s stateless.State) error {
			tx.state = s.(TransactionState) //nolint:forcetypeassert
			return nil
		},
		stateless.FiringImmediate,
	)

	for from := TransactionInitial; from <= TransactionCleared; from++ {
		cfg := fsm.Configure(from).Permit(stateTrigger(TransactionInvalid), TransactionInvalid)
		for to := from + 1; to <= TransactionCleared; to++ {
			cfg.Permit(stateTrigger(to), to)
		}
	}
	fsm.Configure(TransactionInvalid)

	fsm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		from, to := t.Source.(TransactionState), t.Destination.(TransactionState) //nolint:forcetypeassert
		tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction state changed",
			slog.Any("transaction", tx),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		tx.onStateChanged(from, to)
	})
	return fsm
}

// changeState moves the transaction to the new state.
// It returns false when the state is unchanged or the transition is not allowed.
func (tx *Transaction) changeState(to TransactionState) bool {
	if to == tx.state {
		return false
	}
	if tx.state == TransactionInvalid {
		tx.log.LogAttrs(context.Background(), slog.LevelError, "transaction is already invalid",
			slog.Any("transaction", tx),
			slog.String("to", to.String()),
		)
		return false
	}
	if err := tx.fsm.Fire(stateTrigger(to)); err != nil {
		tx.log.LogAttrs(context.Background(), slog.LevelWarn, "illegal transaction state change",
			slog.Any("transaction", tx),
			slog.String("from", tx.state.String()),
			slog.String("to", to.String()),
			slog.Any("error", err),
		)
		return false
	}
	return true
}
