package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipengine/internal/errorutil"
	"github.com/ghettovoice/sipengine/internal/log"
	"github.com/ghettovoice/sipengine/internal/types"
	"github.com/ghettovoice/sipengine/internal/util"
)

// EngineContext is the narrow view of the engine used by transactions.
type EngineContext interface {
	Completer

	// Now returns the current time of the engine clock.
	Now() time.Time
	// Timer returns the RFC 3261 timer value named by letter, see [TimingConfig.Timer].
	Timer(which rune, reliable bool) time.Duration
	// UserTimeout returns how long a client INVITE may wait for a human answer.
	UserTimeout() time.Duration
	// ReqTransCount returns the maximum number of request transmissions.
	ReqTransCount() int
	// RspTransCount returns the maximum number of response transmissions.
	RspTransCount() int
	// LazyTrying reports whether the 100 to non-INVITE requests is not sent.
	LazyTrying() bool
	// AutoChangeParty reports whether ACKs go through the party the answer came from.
	AutoChangeParty() bool
	// AckAfterNewInvite reports whether authenticated retries are appended to the registry.
	AckAfterNewInvite() bool
	// PreserveTransactionOrder reports whether forked siblings are appended to the registry.
	PreserveTransactionOrder() bool
	// IsAllowed reports whether requests of the method are accepted.
	IsAllowed(method string) bool
	// Nonce returns a nonce for authentication challenges.
	Nonce() string
	// BuildAuth computes the Authorization or Proxy-Authorization header answering
	// the challenge with the credentials stored in the request.
	BuildAuth(challenge, request Message) (name, value string, ok bool)
	// Append adds the transaction at the registry tail.
	Append(tx *Transaction)
	// InsertBefore adds the transaction before ref, or at the head when ref is nil.
	InsertBefore(tx, ref *Transaction)
	// Remove drops the transaction from the registry.
	Remove(tx *Transaction)
	Logger() *slog.Logger
	// Metrics returns the metrics recorder, nil disables recording.
	Metrics() *Metrics
}

// EventHandler handles an event delivered by the engine.
// It returns true when the event was taken care of, e.g. the request was answered.
type EventHandler = func(ctx context.Context, ev *Event) bool

// CredentialsFunc returns the password of a user authenticating with a digest.
type CredentialsFunc = func(ctx context.Context, user, realm string, req Message) (password string, ok bool)

// EngineOptions are the options for an [Engine].
type EngineOptions struct {
	// UserAgent is set in User-Agent and Server headers of completed messages.
	// If empty, "sipengine" is used.
	UserAgent string
	// Timings are the base timer values. Zero value uses RFC 3261 defaults.
	Timings TimingConfig
	// ReqTransCount is the maximum number of request transmissions, clamped to [2,10].
	// If 0, 5 is used.
	ReqTransCount int
	// RspTransCount is the maximum number of response transmissions, clamped to [2,10].
	// If 0, 6 is used.
	RspTransCount int
	// MaxForwards is the Max-Forwards of completed requests.
	// If 0, 70 is used.
	MaxForwards int
	// LazyTrying suppresses sending 100 Trying to non-INVITE requests.
	LazyTrying bool
	// AutoChangeParty sends ACKs through the party the answer was received from.
	AutoChangeParty bool
	// AckAfterNewInvite appends authenticated retries to the registry instead of
	// inserting them before the original transaction.
	AckAfterNewInvite bool
	// PreserveTransactionOrder appends forked siblings instead of putting them first.
	PreserveTransactionOrder bool
	// AllowedMethods are accepted request methods besides ACK.
	// Requests of other methods are answered with 501.
	AllowedMethods []string
	// Credentials looks up passwords for [Engine.AuthUser].
	Credentials CredentialsFunc
	// Clock returns the current time. If nil, [time.Now] is used.
	Clock func() time.Time
	// PollInterval is the idle wait of [Engine.Run] workers.
	// If 0, 10 ms is used.
	PollInterval time.Duration
	// Workers is the number of [Engine.Run] workers. If 0, 1 is used.
	Workers int
	// Metrics records statistics. If nil, a recorder without Prometheus collectors is used.
	Metrics *Metrics
	// Logger is the logger.
	// If nil, the [log.Default] is used.
	Logger *slog.Logger
}

func (o *EngineOptions) userAgent() string {
	if o == nil || o.UserAgent == "" {
		return "sipengine"
	}
	return o.UserAgent
}

func (o *EngineOptions) timings() TimingConfig {
	if o == nil {
		return TimingConfig{}
	}
	return o.Timings
}

func (o *EngineOptions) reqTransCount() int {
	if o == nil || o.ReqTransCount == 0 {
		return 5
	}
	return clampTransCount(o.ReqTransCount)
}

func (o *EngineOptions) rspTransCount() int {
	if o == nil || o.RspTransCount == 0 {
		return 6
	}
	return clampTransCount(o.RspTransCount)
}

func (o *EngineOptions) maxForwards() int {
	if o == nil || o.MaxForwards <= 0 {
		return 70
	}
	return o.MaxForwards
}

func (o *EngineOptions) clock() func() time.Time {
	if o == nil || o.Clock == nil {
		return time.Now
	}
	return o.Clock
}

func (o *EngineOptions) pollInterval() time.Duration {
	if o == nil || o.PollInterval <= 0 {
		return 10 * time.Millisecond
	}
	return o.PollInterval
}

func (o *EngineOptions) workers() int {
	if o == nil || o.Workers <= 0 {
		return 1
	}
	return o.Workers
}

func (o *EngineOptions) metrics() *Metrics {
	if o == nil || o.Metrics == nil {
		return new(Metrics)
	}
	return o.Metrics
}

func (o *EngineOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

// Engine owns the live transactions, matches messages to them and drives
// them by polling.
//
// Lock order: a transaction lock may be held while the registry lock is taken,
// never the other way around.
type Engine struct {
	opts    EngineOptions
	timings TimingConfig
	clock   func() time.Time
	metrics *Metrics
	log     *slog.Logger

	addMu sync.Mutex // serializes matching with transaction creation

	mu  sync.Mutex
	txs []*Transaction

	allowedMu sync.RWMutex
	allowed   []string

	cseq   atomic.Uint32
	nonces *nonceSource

	onEvent types.CallbackManager[EventHandler]

	closing   atomic.Bool
	closeOnce sync.Once
}

// NewEngine creates a new [Engine].
// Options are optional, if nil, default values are used (see [EngineOptions]).
func NewEngine(opts *EngineOptions) *Engine {
	e := &Engine{
		timings: opts.timings(),
		clock:   opts.clock(),
		metrics: opts.metrics(),
		log:     opts.log(),
		allowed: []string{MethodAck},
		nonces:  newNonceSource(),
	}
	if opts != nil {
		e.opts = *opts
	}
	for _, m := range e.opts.AllowedMethods {
		e.AddAllowed(m)
	}
	return e
}

func (e *Engine) Now() time.Time { return e.clock() }

func (e *Engine) Timer(which rune, reliable bool) time.Duration {
	d := e.timings.Timer(which, reliable)
	if d == 0 && !strings.ContainsRune("12ABCDEFGHIJK4", which) {
		e.log.LogAttrs(context.Background(), slog.LevelWarn, "requested invalid timer", slog.String("timer", string(which)))
	}
	return d
}

func (e *Engine) UserTimeout() time.Duration { return e.timings.UserTimeout() }

// Timings returns the base timer values.
func (e *Engine) Timings() TimingConfig { return e.timings }

func (e *Engine) ReqTransCount() int { return e.opts.reqTransCount() }

func (e *Engine) RspTransCount() int { return e.opts.rspTransCount() }

func (e *Engine) LazyTrying() bool { return e.opts.LazyTrying }

func (e *Engine) AutoChangeParty() bool { return e.opts.AutoChangeParty }

func (e *Engine) AckAfterNewInvite() bool { return e.opts.AckAfterNewInvite }

func (e *Engine) PreserveTransactionOrder() bool { return e.opts.PreserveTransactionOrder }

func (e *Engine) UserAgent() string { return e.opts.userAgent() }

func (e *Engine) MaxForwards() int { return e.opts.maxForwards() }

// NextCSeq returns the next CSeq number for new requests.
func (e *Engine) NextCSeq() int { return int(e.cseq.Add(1)) }

func (e *Engine) Logger() *slog.Logger { return e.log }

func (e *Engine) Metrics() *Metrics { return e.metrics }

// IsAllowed reports whether requests of the method are accepted.
func (e *Engine) IsAllowed(method string) bool {
	e.allowedMu.RLock()
	defer e.allowedMu.RUnlock()
	return slices.Contains(e.allowed, util.UCase(method))
}

// AddAllowed adds a method to the accepted ones.
func (e *Engine) AddAllowed(method string) {
	method = util.UCase(util.TrimSP(method))
	if method == "" {
		return
	}
	e.allowedMu.Lock()
	defer e.allowedMu.Unlock()
	if !slices.Contains(e.allowed, method) {
		e.allowed = append(e.allowed, method)
	}
}

// Allowed returns the accepted methods formatted for an Allow header.
func (e *Engine) Allowed() string {
	e.allowedMu.RLock()
	defer e.allowedMu.RUnlock()
	return strings.Join(e.allowed, ", ")
}

// Nonce returns a nonce valid for the current second: md5(secret.time).time
func (e *Engine) Nonce() string { return e.nonces.get(e.Now()) }

// NonceAge returns the age of a nonce generated by this engine or -1 for foreign nonces.
func (e *Engine) NonceAge(nonce string) time.Duration { return e.nonces.age(nonce, e.Now()) }

func (e *Engine) BuildAuth(challenge, request Message) (name, value string, ok bool) {
	return buildAuth(challenge, request, e.nonces)
}

// AuthUser verifies the digest credentials of a request against nonces issued
// by this engine. Among several credentials the one with the newest nonce is checked.
// It returns the authenticated user and the nonce age.
func (e *Engine) AuthUser(ctx context.Context, req Message, proxy bool) (user string, age time.Duration, ok bool) {
	if req == nil || e.opts.Credentials == nil {
		return "", -1, false
	}
	hdr := "Authorization"
	if proxy {
		hdr = "Proxy-Authorization"
	}

	var best *Authorization
	bestAge := time.Duration(-1)
	for _, v := range req.Headers(hdr) {
		auth := AuthFromValue(hdr, v)
		if auth == nil || auth.nonce == "" {
			continue
		}
		age := e.NonceAge(auth.nonce)
		if age < 0 {
			continue
		}
		if best == nil || age < bestAge {
			best, bestAge = auth, age
		}
	}
	if best == nil || best.username == "" || best.response == "" {
		return "", -1, false
	}

	pass, ok := e.opts.Credentials(ctx, best.username, best.realm, req)
	if !ok {
		return "", -1, false
	}
	uri := best.uri
	if uri == "" {
		uri = req.URI()
	}
	want := calcResponse(best.username, best.realm, pass, req.Method(), uri, best.nonce, best.qop, best.nc, best.cnonce)
	if want != best.response {
		e.log.LogAttrs(ctx, slog.LevelInfo, "digest authentication failed",
			slog.String("user", best.username),
			slog.String("realm", best.realm),
		)
		return "", -1, false
	}
	return best.username, bestAge, true
}

// Append adds the transaction at the registry tail.
func (e *Engine) Append(tx *Transaction) {
	e.mu.Lock()
	e.txs = append(e.txs, tx)
	e.mu.Unlock()
}

// InsertBefore adds the transaction before ref, or at the head when ref is nil
// or not registered.
func (e *Engine) InsertBefore(tx, ref *Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := 0
	if ref != nil {
		if j := slices.Index(e.txs, ref); j >= 0 {
			i = j
		}
	}
	e.txs = slices.Insert(e.txs, i, tx)
}

// Remove drops the transaction from the registry.
func (e *Engine) Remove(tx *Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := slices.Index(e.txs, tx); i >= 0 {
		e.txs = slices.Delete(e.txs, i, i+1)
	}
}

// Transactions returns a snapshot of the registry in matching order.
func (e *Engine) Transactions() []*Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.txs)
}

// Len returns the number of registered transactions.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.txs)
}

// AddMessage offers the message to the registered transactions.
//
// It returns the transaction that consumed the message, a forked sibling for
// answers of a new dialog, or a new transaction for fresh requests.
// Unmatched answers and ACKs are dropped and nil is returned.
func (e *Engine) AddMessage(msg Message) *Transaction {
	if msg == nil || e.closing.Load() {
		return nil
	}
	ctx := context.Background()

	// make sure outgoing messages are well formed
	if c, ok := msg.(interface{ Complete(Completer) }); ok && msg.IsOutgoing() {
		c.Complete(e)
	}
	if _, ok := msg.HeaderValue("Via"); !ok {
		e.log.LogAttrs(ctx, slog.LevelWarn, "received message with no Via header, sender bug",
			slog.Any("message", msg),
		)
	}
	var branch string
	if b, ok := msg.Param("Via", "branch"); ok && strings.HasPrefix(b, MagicCookie) {
		branch = b
	}

	e.addMu.Lock()
	defer e.addMu.Unlock()

	var forked *Transaction
	for _, tx := range e.Transactions() {
		switch tx.Match(msg, branch) {
		case Matched:
			return tx
		case NoDialog:
			forked = tx
		}
	}
	if forked != nil {
		return e.forkInvite(msg, branch, forked)
	}

	if msg.IsAnswer() {
		e.log.LogAttrs(ctx, slog.LevelInfo, "unhandled answer", slog.Any("message", msg))
		return nil
	}
	if msg.IsACK() {
		e.log.LogAttrs(ctx, slog.LevelDebug, "unhandled ACK", slog.Any("message", msg))
		return nil
	}
	tx, err := NewTransaction(e, msg, msg.IsOutgoing())
	if err != nil {
		e.log.LogAttrs(ctx, slog.LevelWarn, "failed to create transaction", slog.Any("error", err))
		return nil
	}
	return tx
}

func (e *Engine) forkInvite(answer Message, branch string, tx *Transaction) *Transaction {
	tag, _ := answer.Param("To", "tag")
	sib := tx.Fork(tag)
	if sib == nil {
		return nil
	}
	e.log.LogAttrs(context.Background(), slog.LevelInfo, "forked INVITE answer",
		slog.Any("transaction", sib),
		slog.String("tag", tag),
	)
	if res := sib.Match(answer, branch); res != Matched {
		e.log.LogAttrs(context.Background(), slog.LevelWarn, "forked sibling rejected the answer",
			slog.Any("transaction", sib),
			slog.String("result", res.String()),
		)
	}
	return sib
}

// AddPacket parses a message received through the party and adds it, see [Engine.AddMessage].
func (e *Engine) AddPacket(data []byte, party Party) (*Transaction, error) {
	msg, err := ParsePacket(data, party)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return e.AddMessage(msg), nil
}

// GetEvent polls the transactions for the next event.
// Pending events of all transactions are collected before any timer is checked.
// Transactions that became invalid are removed from the registry.
func (e *Engine) GetEvent() *Event {
	txs := e.Transactions()
	if len(txs) == 0 {
		return nil
	}
	for _, pendingOnly := range [...]bool{true, false} {
		now := e.Now()
		for _, tx := range txs {
			ev := tx.GetEvent(pendingOnly, now)
			if ev == nil {
				continue
			}
			if tx.State() == TransactionInvalid {
				e.Remove(tx)
			}
			return ev
		}
	}
	return nil
}

// OnEvent binds a handler called for incoming events and final events of
// concluded transactions. Handlers are called in binding order until one of
// them returns true.
func (e *Engine) OnEvent(fn EventHandler) (unbind func()) {
	return e.onEvent.Add(fn)
}

// Process gets one event, dispatches it to the bound handlers and does the
// default processing. It returns false when there was nothing to do.
func (e *Engine) Process(ctx context.Context) bool {
	ev := e.GetEvent()
	if ev == nil {
		return false
	}
	var handled bool
	if e.deliverable(ev) {
		for fn := range e.onEvent.All() {
			if fn(ctx, ev) {
				handled = true
				break
			}
		}
	}
	e.processEvent(ctx, ev, handled)
	return true
}

func (e *Engine) deliverable(ev *Event) bool {
	if tx := ev.Transaction(); tx != nil && tx.IsAbsorber() {
		return false
	}
	return ev.IsIncoming() || ev.State() == TransactionCleared
}

// ProcessEvent does the default processing of an event the application did not handle:
// outgoing messages are transmitted and unhandled fresh requests are answered with 405.
// The event is released.
func (e *Engine) ProcessEvent(ctx context.Context, ev *Event) {
	e.processEvent(ctx, ev, false)
}

func (e *Engine) processEvent(ctx context.Context, ev *Event, handled bool) {
	if ev == nil {
		return
	}
	defer ev.Release()

	msg := ev.Message()
	if msg == nil {
		return
	}
	e.metrics.eventProcessed(ev.IsOutgoing())
	e.log.LogAttrs(ctx, slog.LevelDebug, "processing event", slog.Any("event", ev))

	if ev.IsOutgoing() {
		send := true
		switch ev.State() {
		case TransactionInvalid:
			send = false
		case TransactionCleared:
			send = msg.IsAnswer()
		}
		if send {
			e.transmit(ctx, ev)
		}
	}
	if !handled && ev.IsIncoming() && ev.State() == TransactionTrying && !msg.IsAnswer() {
		if tx := ev.Transaction(); tx != nil {
			e.log.LogAttrs(ctx, slog.LevelInfo, "rejecting unhandled request", slog.Any("event", ev))
			tx.SetResponseCode(StatusMethodNotAllowed, "")
		}
	}
}

func (e *Engine) transmit(ctx context.Context, ev *Event) {
	p := ev.Party()
	if p == nil {
		e.log.LogAttrs(ctx, slog.LevelDebug, "no party to send event through", slog.Any("event", ev))
		return
	}
	if err := p.Transmit(ctx, ev.Message()); err != nil {
		e.log.LogAttrs(ctx, slog.LevelWarn, "failed to send message",
			slog.Any("event", ev),
			slog.Any("error", err),
		)
		if tx := ev.Transaction(); tx != nil {
			tx.TransmitFailed(ev.Message())
		}
	}
}

// Run drives the engine until the context is done.
// Every worker processes events while there are any and then waits for the poll interval.
func (e *Engine) Run(ctx context.Context) error {
	if e.closing.Load() {
		return errtrace.Wrap(ErrEngineClosed)
	}

	var wg sync.WaitGroup
	for range e.opts.workers() {
		wg.Go(func() { e.worker(ctx) })
	}
	wg.Wait()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return errtrace.Wrap(err)
	}
	return nil
}

func (e *Engine) worker(ctx context.Context) {
	ticker := time.NewTicker(e.opts.pollInterval())
	defer ticker.Stop()
	for {
		for ctx.Err() == nil && e.Process(ctx) {
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close destroys all transactions. Messages added after closing are ignored.
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		for _, tx := range e.Transactions() {
			tx.Destroy()
		}
		if n := e.Len(); n > 0 {
			errs = append(errs, fmt.Errorf("%d transactions left in registry", n))
		}
	})
	return errtrace.Wrap(errorutil.JoinPrefix("close engine:", errs...))
}
