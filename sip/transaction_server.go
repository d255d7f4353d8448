package sip

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ghettovoice/sipengine/internal/util"
)

func (tx *Transaction) serverEvent(fired int) *Event {
	switch tx.state {
	case TransactionInitial:
		if !wellFormed(tx.first) {
			tx.setResponse(tx.first.BuildAnswer(StatusBadRequest, ""))
		} else if !tx.engine.IsAllowed(tx.method) {
			tx.setResponse(tx.first.BuildAnswer(StatusNotImplemented, ""))
		} else {
			tx.setResponse(tx.first.BuildAnswer(StatusTrying, ""))
			tx.changeState(TransactionTrying)
			tx.transmit = false
			if !tx.invite && tx.engine.LazyTrying() {
				return nil
			}
			return newEvent(tx.last, tx)
		}
		e := newEvent(tx.last, tx)
		tx.transmit = false
		tx.changeState(TransactionInvalid)
		return e
	case TransactionProcess:
		switch {
		case fired < 0:
			return nil
		case fired > 0:
			if tx.last != nil {
				return newEvent(tx.last, tx)
			}
			return nil
		}
		// Timer C expired without a final answer from the application
		tx.engine.Metrics().timedOut(tx.kind)
		tx.setResponse(tx.first.BuildAnswer(StatusRequestTimeout, ""))
		tx.transmit = false
		return newEvent(tx.last, tx)
	case TransactionRetrans:
		if tx.invite && fired == 0 {
			// no ACK received
			tx.timedOut()
		}
	}
	return nil
}

// deliverRequest hands the fresh request to the application, once.
func (tx *Transaction) deliverRequest() *Event {
	e := newEvent(tx.first, tx)
	tx.changeState(TransactionProcess)
	// the absolute maximum timeout as we have to accommodate proxies
	tx.setTimeout(tx.engine.Timer('C', false), 1)
	return e
}

// wellFormed reports whether the request carries the headers every
// transaction needs, with a CSeq naming the request method.
func wellFormed(msg Message) bool {
	for _, n := range [...]string{"Call-ID", "From", "To"} {
		if _, ok := msg.HeaderValue(n); !ok {
			return false
		}
	}
	if msg.CSeq() < 0 {
		return false
	}
	cseq, _ := msg.HeaderValue("CSeq")
	_, method, _ := strings.Cut(cseq, " ")
	return util.UCase(util.TrimSP(method)) == msg.Method()
}

func (tx *Transaction) processServerMessage(msg Message) {
	switch tx.state {
	case TransactionTrying, TransactionProcess:
		tx.engine.Metrics().retransmitted(tx.kind)
		tx.transmit = true
	case TransactionFinish, TransactionRetrans:
		if msg.IsACK() {
			tx.timer.disarm()
			tx.setPendingEvent(newEvent(msg, tx), false)
			tx.changeState(TransactionCleared)
			return
		}
		tx.engine.Metrics().retransmitted(tx.kind)
		tx.transmit = true
	}
}

// CanAnswer reports whether a response can be set on the transaction.
func (tx *Transaction) CanAnswer() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.canAnswer()
}

func (tx *Transaction) canAnswer() bool {
	if tx.outgoing {
		return false
	}
	switch tx.state {
	case TransactionInitial, TransactionTrying, TransactionProcess:
		return true
	}
	return false
}

// SetResponse sets the response of a server transaction and queues it for sending.
//
// It returns false, doing nothing, on client transactions and when the
// transaction can not answer anymore.
func (tx *Transaction) SetResponse(msg Message) bool {
	if msg == nil || !msg.IsAnswer() {
		tx.log.LogAttrs(context.Background(), slog.LevelWarn, "invalid response set on transaction",
			slog.Any("transaction", tx),
		)
		return false
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.checkAnswer(msg.Code()) {
		return false
	}
	tx.setResponse(msg)
	return true
}

// SetResponseCode builds a response from the request and sets it, see [Transaction.SetResponse].
// An empty reason uses the default phrase of the code.
func (tx *Transaction) SetResponseCode(code int, reason string) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.checkAnswer(code) {
		return false
	}
	tx.setResponse(tx.first.BuildAnswer(code, reason))
	return true
}

func (tx *Transaction) checkAnswer(code int) bool {
	if tx.outgoing {
		tx.log.LogAttrs(context.Background(), slog.LevelWarn, "response set on client transaction",
			slog.Any("transaction", tx),
			slog.Int("code", code),
		)
		return false
	}
	if !tx.canAnswer() {
		tx.log.LogAttrs(context.Background(), slog.LevelInfo, "transaction ignoring response",
			slog.Any("transaction", tx),
			slog.String("state", tx.state.String()),
			slog.Int("code", code),
		)
		return false
	}
	return true
}

func (tx *Transaction) setResponse(msg Message) {
	tx.setLatestMessage(msg)
	tx.transmit = true

	code := msg.Code()
	switch {
	case code >= 200 && tx.invite:
		// RFC 3261 17.2.1: non 2xx are not retransmitted on reliable transports
		if tx.changeState(TransactionRetrans) {
			reliable := partyReliable(msg)
			if !reliable || code < 300 {
				tx.setTimeout(tx.engine.Timer('G', reliable), tx.transCount)
			} else {
				tx.setTimeout(tx.engine.Timer('H', reliable), 1)
			}
		}
	case code >= 200:
		// just wait and reply to retransmits
		if tx.changeState(TransactionFinish) {
			tx.setTimeout(tx.engine.Timer('J', partyReliable(msg)), 1)
		}
	case code > 100:
		// extend timeout for provisional messages, use proxy timeout (maximum)
		tx.setTimeout(tx.engine.Timer('C', false), 1)
	}
}

// RequestAuth answers with a digest challenge, 401 or 407 when proxy is set.
// The nonce is generated by the engine. An empty realm sends a bare challenge
// response without the authenticate header.
func (tx *Transaction) RequestAuth(realm, domain string, stale, proxy bool) bool {
	code, hdr := StatusUnauthorized, "WWW-Authenticate"
	if proxy {
		code, hdr = StatusProxyAuthenticationRequired, "Proxy-Authenticate"
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.checkAnswer(code) {
		return false
	}

	ans := tx.first.BuildAnswer(code, "")
	if realm != "" {
		sb := util.GetStringBuilder()
		sb.WriteString("Digest realm=")
		sb.WriteString(util.Quote(realm))
		if domain != "" {
			sb.WriteString(", domain=")
			sb.WriteString(util.Quote(domain))
		}
		sb.WriteString(", nonce=")
		sb.WriteString(util.Quote(tx.engine.Nonce()))
		if stale {
			sb.WriteString(", stale=TRUE")
		} else {
			sb.WriteString(", stale=FALSE")
		}
		sb.WriteString(", algorithm=MD5")
		ans.AddHeader(hdr, sb.String())
		util.FreeStringBuilder(sb)
	}
	tx.setResponse(ans)
	return true
}
