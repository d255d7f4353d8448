package sip

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/sipengine/internal/util"
)

// Transaction is one SIP request and its responses, RFC 3261 section 17.
//
// A transaction never runs by itself: the engine polls it with
// [Transaction.GetEvent] and feeds it matching messages with [Transaction.Match].
// All methods are safe for concurrent use.
type Transaction struct {
	mu     sync.Mutex
	engine EngineContext
	log    *slog.Logger
	fsm    *stateless.StateMachine

	// immutable after construction
	outgoing bool
	invite   bool
	branch   string
	callID   string
	method   string
	uri      string
	first    Message
	kind     string

	state      TransactionState
	tag        string
	last       Message
	pending    *Event
	transmit   bool
	response   int
	transCount int
	timer      retransTimer
	userData   any

	authRetry *Transaction
	absorber  bool
}

// NewTransaction creates a transaction from a fresh request and appends it
// to the engine registry.
//
// Outgoing transactions are client (UAC) transactions, incoming are server (UAS) ones.
// For incoming requests the message party is pointed at the address of the
// top Via header when the party implements [Retargeter].
func NewTransaction(engine EngineContext, msg Message, outgoing bool) (*Transaction, error) {
	if engine == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil engine"))
	}
	if msg == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil message"))
	}
	if msg.IsAnswer() {
		return nil, errtrace.Wrap(NewInvalidArgumentError("transaction can not start from a response"))
	}

	tx := newTransaction(engine, msg, outgoing, TransactionInitial)
	if !outgoing {
		retargetParty(msg)
	}
	tx.log.LogAttrs(context.Background(), slog.LevelDebug, "transaction created", slog.Any("transaction", tx))
	engine.Append(tx)
	return tx, nil
}

func newTransaction(engine EngineContext, msg Message, outgoing bool, state TransactionState) *Transaction {
	tx := &Transaction{
		engine:   engine,
		log:      engine.Logger(),
		outgoing: outgoing,
		first:    msg,
		method:   msg.Method(),
		uri:      msg.URI(),
		state:    state,
	}
	if b, ok := msg.Param("Via", "branch"); ok && strings.HasPrefix(b, MagicCookie) {
		tx.branch = b
	}
	tx.tag, _ = msg.Param("To", "tag")
	tx.callID, _ = msg.HeaderValue("Call-ID")
	tx.invite = tx.method == MethodInvite
	if outgoing {
		tx.transCount = clampTransCount(engine.ReqTransCount())
	} else {
		tx.transCount = clampTransCount(engine.RspTransCount())
	}
	tx.kind = txKind(outgoing, tx.invite)
	tx.fsm = tx.newStateGuard()
	engine.Metrics().txCreated(tx.kind)
	return tx
}

func txKind(outgoing, invite bool) string {
	switch {
	case outgoing && invite:
		return "client_invite"
	case outgoing:
		return "client_non_invite"
	case invite:
		return "server_invite"
	default:
		return "server_non_invite"
	}
}

// retargetParty points answers to the top Via sent-by, honoring received/rport.
func retargetParty(msg Message) {
	rt, ok := msg.Party().(Retargeter)
	if !ok {
		return
	}
	via, ok := msg.HeaderValue("Via")
	if !ok {
		return
	}
	// skip protocol/version/transport
	_, sentBy, ok := strings.Cut(via, " ")
	if !ok {
		return
	}
	host, port := splitHostPort(util.TrimSP(sentBy))
	if rcvd, ok := msg.Param("Via", "received"); ok && rcvd != "" {
		host = rcvd
	}
	if rport, ok := msg.Param("Via", "rport"); ok && rport != "" {
		port = rport
	}
	if port == "" {
		port = "5060"
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	msg.SetParty(rt.Retarget(host + ":" + port))
}

func splitHostPort(s string) (host, port string) {
	if strings.HasPrefix(s, "[") {
		if i := strings.IndexByte(s, ']'); i > 0 {
			host = s[:i+1]
			port = strings.TrimPrefix(s[i+1:], ":")
			return host, port
		}
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func clampTransCount(n int) int { return min(max(n, 2), 10) }

// State returns the current transaction state.
func (tx *Transaction) State() TransactionState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// IsOutgoing reports whether this is a client transaction.
func (tx *Transaction) IsOutgoing() bool { return tx.outgoing }

// IsIncoming reports whether this is a server transaction.
func (tx *Transaction) IsIncoming() bool { return !tx.outgoing }

// IsInvite reports whether the transaction was started by an INVITE.
func (tx *Transaction) IsInvite() bool { return tx.invite }

// Branch returns the Via branch or empty string for pre RFC 3261 peers.
func (tx *Transaction) Branch() string { return tx.branch }

// CallID returns the Call-ID of the initial message.
func (tx *Transaction) CallID() string { return tx.callID }

// Method returns the method of the initial message.
func (tx *Transaction) Method() string { return tx.method }

// URI returns the request URI of the initial message.
func (tx *Transaction) URI() string { return tx.uri }

// InitialMessage returns the request that started the transaction.
func (tx *Transaction) InitialMessage() Message { return tx.first }

// DialogTag returns the To tag of the established dialog, if any.
func (tx *Transaction) DialogTag() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.tag
}

// SetDialogTag sets the dialog tag if none is established yet.
// An empty tag generates a random one.
func (tx *Transaction) SetDialogTag(tag string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.tag == "" {
		tx.setDialogTag(tag)
	}
}

// Dialog returns the dialog of the transaction with the established tag.
func (tx *Transaction) Dialog() *Dialog {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	d := NewDialog(tx.first)
	if tx.outgoing && d.RemoteTag == "" {
		d.RemoteTag = tx.tag
	} else if !tx.outgoing && d.LocalTag == "" {
		d.LocalTag = tx.tag
	}
	return d
}

func (tx *Transaction) setDialogTag(tag string) {
	if tag != "" {
		tx.tag = tag
		return
	}
	if tx.tag == "" {
		tx.tag = strconv.FormatUint(uint64(util.RandUint32()), 10)
	}
}

// ResponseCode returns the latest response code, 0 if none.
func (tx *Transaction) ResponseCode() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.response
}

// LatestMessage returns the latest response (server) or retransmitted
// request/ACK (client).
func (tx *Transaction) LatestMessage() Message {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.last
}

// TransCount returns the maximum number of transmissions.
func (tx *Transaction) TransCount() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.transCount
}

// SetTransCount sets the maximum number of transmissions clamped to [2,10].
// Negative values are ignored.
func (tx *Transaction) SetTransCount(n int) {
	if n < 0 {
		return
	}
	tx.mu.Lock()
	tx.transCount = clampTransCount(n)
	tx.mu.Unlock()
}

// UserData returns the value attached by the application.
func (tx *Transaction) UserData() any {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.userData
}

// SetUserData attaches an application value to the transaction.
func (tx *Transaction) SetUserData(v any) {
	tx.mu.Lock()
	tx.userData = v
	tx.mu.Unlock()
}

// AuthRetry returns the authenticated transaction created in response to a
// challenge received by this one.
func (tx *Transaction) AuthRetry() *Transaction {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.authRetry
}

// IsAbsorber reports whether the transaction only absorbs a challenge
// answered by its [Transaction.AuthRetry].
func (tx *Transaction) IsAbsorber() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.absorber
}

func (tx *Transaction) String() string {
	if tx == nil {
		return "<nil>"
	}
	return tx.kind + " " + tx.method + " " + tx.branch
}

// LogValue only reads immutable fields, it is used while the lock is held.
func (tx *Transaction) LogValue() slog.Value {
	if tx == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("kind", tx.kind),
		slog.String("method", tx.method),
		slog.String("branch", tx.branch),
		slog.String("call_id", tx.callID),
	)
}

// TransactionSnapshot is a point in time view of a transaction.
type TransactionSnapshot struct {
	Kind         string           `json:"kind"`
	State        TransactionState `json:"state"`
	Method       string           `json:"method"`
	Branch       string           `json:"branch,omitempty"`
	CallID       string           `json:"call_id,omitempty"`
	DialogTag    string           `json:"dialog_tag,omitempty"`
	ResponseCode int              `json:"response_code,omitempty"`
	TransCount   int              `json:"trans_count"`
	Pending      bool             `json:"pending,omitempty"`
	Transmit     bool             `json:"transmit,omitempty"`
	TimerCount   int              `json:"timer_count,omitempty"`
	TimerDelay   time.Duration    `json:"timer_delay,omitempty"`
	Deadline     time.Time        `json:"deadline,omitzero"`
	Absorber     bool             `json:"absorber,omitempty"`
}

// Snapshot returns a consistent copy of the transaction state.
func (tx *Transaction) Snapshot() TransactionSnapshot {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return TransactionSnapshot{
		Kind:         tx.kind,
		State:        tx.state,
		Method:       tx.method,
		Branch:       tx.branch,
		CallID:       tx.callID,
		DialogTag:    tx.tag,
		ResponseCode: tx.response,
		TransCount:   tx.transCount,
		Pending:      tx.pending != nil,
		Transmit:     tx.transmit,
		TimerCount:   tx.timer.count,
		TimerDelay:   tx.timer.delay,
		Deadline:     tx.timer.deadline,
		Absorber:     tx.absorber,
	}
}

// GetEvent returns the next thing the transaction has to do at the time now:
// a message to send, a message to deliver to the application or nil.
//
// Within one poll a pending event wins over everything, a fresh server request
// is delivered before any queued retransmission, a queued transmission goes
// before timer processing. With pendingOnly set timers are not checked.
func (tx *Transaction) GetEvent(pendingOnly bool, now time.Time) *Event {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if e := tx.pending; e != nil {
		tx.pending = nil
		return e
	}
	if !tx.outgoing && tx.state == TransactionTrying {
		return tx.deliverRequest()
	}
	if e := tx.transmitEvent(); e != nil {
		return e
	}
	if pendingOnly {
		return nil
	}

	fired := tx.timer.fire(now)
	if fired >= 0 {
		tx.log.LogAttrs(context.Background(), slog.LevelDebug, "transaction timer fired",
			slog.Any("transaction", tx),
			slog.Int("remaining", fired),
		)
	}

	var e *Event
	if tx.outgoing {
		e = tx.clientEvent(fired)
	} else {
		e = tx.serverEvent(fired)
	}
	if e != nil {
		return e
	}
	if e := tx.transmitEvent(); e != nil {
		return e
	}
	return tx.commonEvent(fired)
}

func (tx *Transaction) transmitEvent() *Event {
	if !tx.transmit {
		return nil
	}
	tx.transmit = false
	if tx.last != nil {
		return newEvent(tx.last, tx)
	}
	return newEvent(tx.first, tx)
}

// commonEvent is the default processing of states that behave the same for
// both directions.
func (tx *Transaction) commonEvent(fired int) *Event {
	var e *Event
	switch tx.state {
	case TransactionRetrans:
		if fired < 0 {
			return nil
		}
		if fired > 0 {
			if tx.last != nil {
				tx.engine.Metrics().retransmitted(tx.kind)
				e = newEvent(tx.last, tx)
			}
			return e
		}
		fallthrough
	case TransactionFinish:
		if fired != 0 {
			return nil
		}
		tx.changeState(TransactionCleared)
		fallthrough
	case TransactionCleared:
		tx.timer.disarm()
		e = newEvent(tx.first, tx)
		tx.changeState(TransactionInvalid)
		return e
	case TransactionInvalid:
		tx.log.LogAttrs(context.Background(), slog.LevelDebug, "transaction polled in invalid state",
			slog.Any("transaction", tx),
		)
	}
	return nil
}

func (tx *Transaction) setTimeout(delay time.Duration, count int) {
	tx.timer.set(tx.engine.Now(), delay, count)
}

// setPendingEvent stores the event to be delivered by the next poll.
// An already pending event is kept unless replace is set.
func (tx *Transaction) setPendingEvent(e *Event, replace bool) {
	if tx.pending != nil {
		dropped := e
		if replace {
			dropped, tx.pending = tx.pending, e
		}
		tx.log.LogAttrs(context.Background(), slog.LevelDebug, "transaction dropped event",
			slog.Any("transaction", tx),
			slog.Any("event", dropped),
		)
		dropped.Release()
		return
	}
	tx.pending = e
}

func (tx *Transaction) setLatestMessage(msg Message) {
	if tx.last == msg {
		return
	}
	tx.last = msg
	if msg == nil {
		return
	}
	if msg.IsAnswer() {
		tx.response = msg.Code()
		if msg.IsOutgoing() && tx.response > 100 {
			tx.setDialogTag("")
		}
	}
	if msg.IsOutgoing() {
		if c, ok := msg.(interface{ Complete(Completer) }); ok {
			c.Complete(tx.engine)
		}
		msg.SetToTag(tx.tag)
	}
}

// TransmitFailed notifies the transaction that sending msg failed.
//
// On a reliable transport, or when no retransmission is left, a client
// transaction in Trying is cleared with a 500 outcome. Other failures are
// absorbed: the party stays attached and the next scheduled retransmission
// goes through it again.
func (tx *Transaction) TransmitFailed(msg Message) {
	if msg == nil {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.engine.Metrics().transmitFailed(tx.kind)
	tx.log.LogAttrs(context.Background(), slog.LevelDebug, "transaction send failed",
		slog.Any("transaction", tx),
		slog.String("state", tx.state.String()),
		slog.Any("message", msg),
	)
	// answers and ACKs are resent on the next timer or retransmitted request
	if !tx.outgoing || tx.state != TransactionTrying || msg != tx.first {
		return
	}
	if partyReliable(msg) || tx.timer.count <= 1 {
		tx.log.LogAttrs(context.Background(), slog.LevelInfo, "transaction send failed, clearing",
			slog.Any("transaction", tx),
		)
		tx.response = StatusServerInternalError
		tx.timer.disarm()
		tx.changeState(TransactionCleared)
	}
}

// Destroy forces the transaction to Invalid, drops any pending event and
// removes it from the engine registry.
func (tx *Transaction) Destroy() {
	tx.mu.Lock()
	tx.timer.disarm()
	if tx.state != TransactionInvalid {
		tx.changeState(TransactionInvalid)
	}
	pending := tx.pending
	tx.pending = nil
	tx.transmit = false
	tx.mu.Unlock()

	if pending != nil {
		pending.Release()
	}
	tx.engine.Remove(tx)
}

func (tx *Transaction) onStateChanged(_, to TransactionState) {
	if to == TransactionInvalid {
		tx.engine.Metrics().txEnded(tx.kind)
	}
}

func partyReliable(msg Message) bool {
	p := msg.Party()
	return p != nil && p.Reliable()
}

// retransTimer is a count down timer with exponential back-off.
// A zero count means disarmed.
type retransTimer struct {
	count    int
	delay    time.Duration
	deadline time.Time
}

func (t *retransTimer) set(now time.Time, delay time.Duration, count int) {
	t.count = max(count, 0)
	t.delay = max(delay, 0)
	if t.count > 0 {
		t.deadline = now.Add(t.delay)
	} else {
		t.deadline = time.Time{}
	}
}

func (t *retransTimer) disarm() { t.set(time.Time{}, 0, 0) }

// fire returns -1 when the timer is disarmed or not due yet, otherwise the
// number of remaining firings; 0 means this was the final expiry.
func (t *retransTimer) fire(now time.Time) int {
	if t.count <= 0 || now.Before(t.deadline) {
		return -1
	}
	t.count--
	t.delay *= 2
	if t.count > 0 {
		t.deadline = now.Add(t.delay)
	} else {
		t.deadline = time.Time{}
	}
	return t.count
}
