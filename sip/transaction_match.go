package sip

import (
	"context"
	"log/slog"
	"strings"
)

// MatchResult is the outcome of offering a message to a transaction.
type MatchResult int

const (
	// NoMatch means the message belongs to another transaction.
	NoMatch MatchResult = iota
	// Matched means the message was consumed by the transaction.
	Matched
	// NoDialog means the message belongs to the transaction but to a different
	// dialog: a forked answer to an INVITE. The caller should create a sibling
	// with [Transaction.Fork] and offer the message to it.
	NoDialog
)

func (r MatchResult) String() string {
	switch r {
	case NoMatch:
		return "NoMatch"
	case Matched:
		return "Matched"
	case NoDialog:
		return "NoDialog"
	default:
		return "Unknown"
	}
}

// Match checks whether msg belongs to the transaction and processes it if so.
// The branch is the magic cookie branch of the message top Via or empty.
func (tx *Transaction) Match(msg Message, branch string) MatchResult {
	if msg == nil {
		return NoMatch
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if res := tx.match(msg, branch); res != Matched {
		return res
	}
	if tx.outgoing {
		tx.processClientMessage(msg)
	} else {
		tx.processServerMessage(msg)
	}
	return Matched
}

func (tx *Transaction) match(msg Message, branch string) MatchResult {
	ctx := context.Background()
	if branch != "" {
		if branch != tx.branch {
			// different branch is allowed only for ACK to a 2xx in incoming INVITE
			if !(tx.invite && !tx.outgoing && msg.IsACK()) {
				return NoMatch
			}
			if tx.first.CSeq() != msg.CSeq() || tx.callID != headerValue(msg, "Call-ID") || tx.tag != param(msg, "To", "tag") {
				return NoMatch
			}
			if tx.last == nil || tx.last.Code()/100 != 2 {
				return NoMatch
			}
		} else if tx.method != msg.Method() {
			// same branch ACK is the one to a non 2xx
			if !(tx.invite && !tx.outgoing && msg.IsACK()) {
				return NoMatch
			}
			if tx.last == nil || tx.last.Code()/100 == 2 {
				return NoMatch
			}
		}
	} else {
		if tx.method != msg.Method() && !(tx.invite && !tx.outgoing && msg.IsACK()) {
			return NoMatch
		}
		if tx.first.CSeq() != msg.CSeq() ||
			tx.callID != headerValue(msg, "Call-ID") ||
			headerValue(tx.first, "From") != headerValue(msg, "From") ||
			headerValue(tx.first, "To") != headerValue(msg, "To") {
			return NoMatch
		}
		// allow answers with no Via line
		if v1, ok := lastVia(tx.first); ok {
			if v2, ok := lastVia(msg); ok && v1 != v2 {
				return NoMatch
			}
		}
		if msg.IsACK() {
			if tx.tag != param(msg, "To", "tag") {
				return NoMatch
			}
			if !tx.matchACKURI(ctx, msg.URI()) {
				return NoMatch
			}
		}
	}

	if msg.Party() == nil {
		msg.SetParty(tx.first.Party())
	}
	if tx.outgoing != msg.IsAnswer() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction ignoring retransmitted message",
			slog.Any("transaction", tx),
			slog.Any("message", msg),
		)
		return NoMatch
	}

	if msg.IsAnswer() {
		tag, ok := msg.Param("To", "tag")
		switch {
		case tx.tag == "":
			if ok && tag != "" {
				if msg.Code() > StatusTrying {
					tx.tag = tag
					tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction found dialog tag",
						slog.Any("transaction", tx),
						slog.String("tag", tag),
					)
				} else {
					tx.log.LogAttrs(ctx, slog.LevelWarn, "received To tag in 100 answer, sender bug",
						slog.Any("transaction", tx),
					)
				}
			}
		case !ok || tag == "":
			// a dialog is established and the answer has none, it could not be cancelled anyway
			return NoMatch
		case tag != tx.tag:
			if tx.invite {
				return NoDialog
			}
			return NoMatch
		}
	}
	return Matched
}

// matchACKURI compares the request URI of a branch-less ACK tolerating
// broken peers that lose URI parameters or keep only the user part.
func (tx *Transaction) matchACKURI(ctx context.Context, uri string) bool {
	if tx.uri == uri {
		return true
	}
	tmp := tx.uri
	if sc := strings.IndexByte(tmp, ';'); sc > 0 {
		tmp = tmp[:sc]
		if tmp == uri {
			tx.log.LogAttrs(ctx, slog.LevelWarn, "received no-branch ACK with lost URI params, sender bug",
				slog.Any("transaction", tx),
			)
			return true
		}
	}
	if at := strings.IndexByte(tmp, '@'); at > 0 {
		if at2 := strings.IndexByte(uri, '@'); at2 > 0 && tmp[:at] == uri[:at2] {
			tx.log.LogAttrs(ctx, slog.LevelWarn, "received no-branch ACK with only user part matching, sender bug",
				slog.Any("transaction", tx),
			)
			return true
		}
	}
	return false
}

// lastVia returns the full text of the bottom Via line, the one of the
// originating UA.
func lastVia(msg Message) (string, bool) {
	vias := msg.Headers("Via")
	if len(vias) == 0 {
		return "", false
	}
	return vias[len(vias)-1], true
}

func headerValue(msg Message, name string) string {
	v, _ := msg.HeaderValue(name)
	return v
}

func param(msg Message, header, name string) string {
	v, _ := msg.Param(header, name)
	return v
}
