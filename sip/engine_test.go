package sip_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghettovoice/sipengine/sip"
)

func TestEngine_Defaults(t *testing.T) {
	t.Parallel()

	eng := sip.NewEngine(nil)
	defer eng.Close()

	if got, want := eng.ReqTransCount(), 5; got != want {
		t.Errorf("eng.ReqTransCount() = %d, want %d", got, want)
	}
	if got, want := eng.RspTransCount(), 6; got != want {
		t.Errorf("eng.RspTransCount() = %d, want %d", got, want)
	}
	if got, want := eng.MaxForwards(), 70; got != want {
		t.Errorf("eng.MaxForwards() = %d, want %d", got, want)
	}
	if got, want := eng.Allowed(), "ACK"; got != want {
		t.Errorf("eng.Allowed() = %q, want %q", got, want)
	}
	if got, want := eng.UserTimeout(), 176*time.Second; got != want {
		t.Errorf("eng.UserTimeout() = %v, want %v", got, want)
	}
	if !eng.IsAllowed("ack") {
		t.Error("eng.IsAllowed(\"ack\") = false, want true")
	}

	eng.AddAllowed("invite")
	eng.AddAllowed("INVITE")
	eng.AddAllowed(" ")
	if got, want := eng.Allowed(), "ACK, INVITE"; got != want {
		t.Errorf("eng.Allowed() = %q, want %q", got, want)
	}

	if a, b := eng.NextCSeq(), eng.NextCSeq(); b != a+1 {
		t.Errorf("eng.NextCSeq() = %d then %d, want consecutive", a, b)
	}
}

func TestEngine_TransCountClamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want int
	}{
		{1, 2},
		{4, 4},
		{20, 10},
	}
	for _, c := range cases {
		eng := sip.NewEngine(&sip.EngineOptions{ReqTransCount: c.in, RspTransCount: c.in})
		if got := eng.ReqTransCount(); got != c.want {
			t.Errorf("ReqTransCount %d: got %d, want %d", c.in, got, c.want)
		}
		if got := eng.RspTransCount(); got != c.want {
			t.Errorf("RspTransCount %d: got %d, want %d", c.in, got, c.want)
		}
		eng.Close()
	}
}

func TestEngine_Timer(t *testing.T) {
	t.Parallel()

	eng := sip.NewEngine(nil)
	defer eng.Close()

	cases := []struct {
		which    rune
		reliable bool
		want     time.Duration
	}{
		{'1', false, 500 * time.Millisecond},
		{'2', false, 4 * time.Second},
		{'4', false, 5 * time.Second},
		{'A', false, 500 * time.Millisecond},
		{'B', false, 32 * time.Second},
		{'C', false, 180 * time.Second},
		{'D', false, 32 * time.Second},
		{'D', true, 0},
		{'E', false, 500 * time.Millisecond},
		{'F', false, 32 * time.Second},
		{'G', false, 500 * time.Millisecond},
		{'H', false, 32 * time.Second},
		{'I', false, 5 * time.Second},
		{'I', true, 0},
		{'J', false, 32 * time.Second},
		{'J', true, 0},
		{'K', false, 5 * time.Second},
		{'K', true, 0},
		{'Z', false, 0},
	}
	for _, c := range cases {
		if got := eng.Timer(c.which, c.reliable); got != c.want {
			t.Errorf("eng.Timer(%q, %v) = %v, want %v", c.which, c.reliable, got, c.want)
		}
	}
}

func TestEngine_AddMessage_DropsStrays(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng, _ := newTestEngine(t, nil)

	req := sip.NewRequest(sip.MethodOptions, "sip:bob@biloxi.com")
	req.SetParty(party)
	req.Complete(eng)

	if tx := eng.AddMessage(inAnswer(t, req, sip.StatusOK, "x", party)); tx != nil {
		t.Errorf("eng.AddMessage(stray answer) = %v, want nil", tx)
	}
	if tx := eng.AddMessage(inACK(t, sip.MagicCookie+"-stray", "x", party)); tx != nil {
		t.Errorf("eng.AddMessage(stray ACK) = %v, want nil", tx)
	}
	if tx := eng.AddMessage(nil); tx != nil {
		t.Errorf("eng.AddMessage(nil) = %v, want nil", tx)
	}
	if got := eng.Len(); got != 0 {
		t.Errorf("eng.Len() = %d, want 0", got)
	}
}

func TestEngine_AddMessage_CompletesRequests(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng, _ := newTestEngine(t, &sip.EngineOptions{UserAgent: "sipengine-test"})

	req := sip.NewRequest(sip.MethodInvite, "sip:bob@biloxi.com")
	req.SetParty(party)
	tx := eng.AddMessage(req)
	if tx == nil {
		t.Fatal("eng.AddMessage(req) = nil, want transaction")
	}

	if !strings.HasPrefix(tx.Branch(), sip.MagicCookie) {
		t.Errorf("tx.Branch() = %q, want magic cookie prefix", tx.Branch())
	}
	if tx.CallID() == "" {
		t.Error("tx.CallID() is empty")
	}
	for _, name := range []string{"Via", "From", "To", "Call-ID", "CSeq", "Max-Forwards", "Contact"} {
		if _, ok := req.HeaderValue(name); !ok {
			t.Errorf("completed request has no %s header", name)
		}
	}
	if got, _ := req.HeaderValue("User-Agent"); got != "sipengine-test" {
		t.Errorf("User-Agent = %q, want \"sipengine-test\"", got)
	}
	if got, _ := req.HeaderValue("Max-Forwards"); got != "70" {
		t.Errorf("Max-Forwards = %q, want \"70\"", got)
	}
	if tag, ok := req.Param("From", "tag"); !ok || tag == "" {
		t.Error("From has no tag")
	}
}

func TestEngine_AddPacket(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng, _ := newTestEngine(t, nil)

	if _, err := eng.AddPacket([]byte("garbage\r\n\r\n"), party); err == nil {
		t.Error("eng.AddPacket(garbage) error = nil, want error")
	}

	raw := inRequest(t, sip.MethodOptions, "", party).String()
	tx, err := eng.AddPacket([]byte(raw), party)
	if err != nil {
		t.Fatalf("eng.AddPacket() error = %v, want nil", err)
	}
	if tx == nil || !tx.IsIncoming() {
		t.Fatalf("eng.AddPacket() = %v, want server transaction", tx)
	}
}

func TestEngine_AddPacket_BadRequest(t *testing.T) {
	t.Parallel()

	raw := rawOptions("UDP", "127.0.0.1:5070", "z9hG4bKnashds8")
	cases := []struct {
		name, old, new string
	}{
		{"no Call-ID", "Call-ID: " + testCallID + "\r\n", ""},
		{"no To", "To: <sip:bob@127.0.0.1>\r\n", ""},
		{"no CSeq", "CSeq: 63104 OPTIONS\r\n", ""},
		{"bad CSeq", "CSeq: 63104 OPTIONS", "CSeq: abc OPTIONS"},
		{"CSeq method mismatch", "CSeq: 63104 OPTIONS", "CSeq: 63104 INVITE"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			party := &stubParty{reliable: true}
			eng, _ := newTestEngine(t, nil)
			var events eventLog
			eng.OnEvent(events.handle(nil))

			tx, err := eng.AddPacket([]byte(strings.Replace(raw, c.old, c.new, 1)), party)
			if err != nil {
				t.Fatalf("eng.AddPacket() error = %v, want nil", err)
			}
			if tx == nil {
				t.Fatal("eng.AddPacket() = nil, want server transaction")
			}
			drain(t, eng)

			var codes []int
			for _, m := range party.Sent() {
				codes = append(codes, m.Code())
			}
			if diff := cmp.Diff(codes, []int{sip.StatusBadRequest}); diff != "" {
				t.Errorf("sent codes mismatch (-got +want):\n%s", diff)
			}
			if got := events.Len(); got != 0 {
				t.Errorf("delivered events = %d, want 0", got)
			}
			if got := eng.Len(); got != 0 {
				t.Errorf("eng.Len() = %d, want 0", got)
			}
		})
	}
}

func TestEngine_GetEvent_PendingFirst(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng, clock := newTestEngine(t, nil)

	first := sip.NewRequest(sip.MethodOptions, "sip:carol@chicago.com")
	first.SetParty(party)
	eng.AddMessage(first)

	req := sip.NewRequest(sip.MethodInvite, "sip:bob@biloxi.com")
	req.SetParty(party)
	eng.AddMessage(req)

	drain(t, eng)
	// the OPTIONS retransmission is due but the answer is pending
	clock.Advance(500 * time.Millisecond)

	invite := eng.Transactions()[1]
	eng.AddMessage(inAnswer(t, invite.InitialMessage(), sip.StatusRinging, "abc", party))

	ev := eng.GetEvent()
	if ev == nil {
		t.Fatal("eng.GetEvent() = nil, want pending answer")
	}
	defer ev.Release()
	if ev.Transaction() != invite || ev.Message().Code() != sip.StatusRinging {
		t.Errorf("eng.GetEvent() = %v, want the 180 of %v", ev, invite)
	}
}

func TestEngine_ProcessEvent(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng, _ := newTestEngine(t, nil)

	req := sip.NewRequest(sip.MethodOptions, "sip:bob@biloxi.com")
	req.SetParty(party)
	eng.AddMessage(req)

	ev := eng.GetEvent()
	if ev == nil {
		t.Fatal("eng.GetEvent() = nil, want event")
	}
	if !ev.IsOutgoing() {
		t.Fatal("ev.IsOutgoing() = false, want true")
	}
	eng.ProcessEvent(t.Context(), ev)
	if !ev.Released() {
		t.Error("ev.Released() = false after ProcessEvent")
	}
	if got := party.count(sip.MethodOptions, 0); got != 1 {
		t.Errorf("sent OPTIONS = %d, want 1", got)
	}
	// double release is only logged
	ev.Release()
}

func TestEngine_OnEvent_Unbind(t *testing.T) {
	t.Parallel()

	party := &stubParty{reliable: true}
	eng, _ := newTestEngine(t, nil)

	var calls []string
	unbind := eng.OnEvent(func(context.Context, *sip.Event) bool {
		calls = append(calls, "first")
		return false
	})
	eng.OnEvent(func(_ context.Context, ev *sip.Event) bool {
		calls = append(calls, "second")
		return holdRequests(ev)
	})

	eng.AddMessage(inRequest(t, sip.MethodOptions, "", party))
	drain(t, eng)
	if diff := cmp.Diff(calls, []string{"first", "second"}); diff != "" {
		t.Errorf("handler calls mismatch (-got +want):\n%s", diff)
	}

	unbind()
	calls = nil
	eng.AddMessage(inRequest(t, sip.MethodOptions, sip.MagicCookie+"-2", party))
	drain(t, eng)
	if diff := cmp.Diff(calls, []string{"second"}); diff != "" {
		t.Errorf("handler calls mismatch (-got +want):\n%s", diff)
	}
}

func TestEngine_AuthUser(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng, clock := newTestEngine(t, &sip.EngineOptions{
		Credentials: func(_ context.Context, user, realm string, _ sip.Message) (string, bool) {
			if user == "alice" && realm == "biloxi.com" {
				return "secret", true
			}
			return "", false
		},
	})

	sign := func(nonce, user, pass string) *sip.Msg {
		req := inRequest(t, sip.MethodRegister, "", party)
		auth := sip.AuthFromValue("WWW-Authenticate", `Digest realm="biloxi.com", nonce="`+nonce+`"`).
			SetCredentials(user, pass).
			SetRequest(sip.MethodRegister, req.URI()).
			Sign()
		req.AddHeader("Authorization", auth.String())
		return req
	}

	nonce := eng.Nonce()
	clock.Advance(3 * time.Second)

	user, age, ok := eng.AuthUser(t.Context(), sign(nonce, "alice", "secret"), false)
	if !ok || user != "alice" {
		t.Fatalf("eng.AuthUser() = %q, %v, want \"alice\", true", user, ok)
	}
	if age != 3*time.Second {
		t.Errorf("nonce age = %v, want 3s", age)
	}

	cases := []struct {
		name  string
		req   *sip.Msg
		proxy bool
	}{
		{"wrong password", sign(nonce, "alice", "guess"), false},
		{"unknown user", sign(nonce, "mallory", "secret"), false},
		{"foreign nonce", sign("dcd98b7102dd2f0e8b11d0f600bfb0c093", "alice", "secret"), false},
		{"proxy credentials expected", sign(nonce, "alice", "secret"), true},
		{"no credentials", inRequest(t, sip.MethodRegister, "", party), false},
	}
	for _, c := range cases {
		if user, _, ok := eng.AuthUser(t.Context(), c.req, c.proxy); ok {
			t.Errorf("%s: eng.AuthUser() = %q, true, want false", c.name, user)
		}
	}

	// the youngest nonce wins
	req := sign(nonce, "alice", "guess")
	fresh := eng.Nonce()
	auth := sip.AuthFromValue("WWW-Authenticate", `Digest realm="biloxi.com", nonce="`+fresh+`"`).
		SetCredentials("alice", "secret").
		SetRequest(sip.MethodRegister, req.URI()).
		Sign()
	req.AddHeader("Authorization", auth.String())
	if _, age, ok := eng.AuthUser(t.Context(), req, false); !ok || age != 0 {
		t.Errorf("eng.AuthUser(two credentials) = %v, %v, want 0, true", age, ok)
	}
}

func TestEngine_Nonce(t *testing.T) {
	t.Parallel()

	eng, clock := newTestEngine(t, nil)

	n1 := eng.Nonce()
	if n2 := eng.Nonce(); n2 != n1 {
		t.Errorf("eng.Nonce() within a second = %q, want %q", n2, n1)
	}
	clock.Advance(time.Second)
	n3 := eng.Nonce()
	if n3 == n1 {
		t.Error("eng.Nonce() was not regenerated after a second")
	}
	if got := eng.NonceAge(n1); got != time.Second {
		t.Errorf("eng.NonceAge(old) = %v, want 1s", got)
	}
	if got := eng.NonceAge(n3); got != 0 {
		t.Errorf("eng.NonceAge(current) = %v, want 0", got)
	}
	for _, bad := range []string{"", "nodot", "abc.123", n1 + "0"} {
		if got := eng.NonceAge(bad); got != -1 {
			t.Errorf("eng.NonceAge(%q) = %v, want -1", bad, got)
		}
	}

	other := sip.NewEngine(nil)
	defer other.Close()
	if got := other.NonceAge(n1); got != -1 {
		t.Errorf("other.NonceAge() = %v, want -1", got)
	}
}

func TestEngine_Close(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng := sip.NewEngine(&sip.EngineOptions{AllowedMethods: []string{sip.MethodOptions}})

	req := sip.NewRequest(sip.MethodOptions, "sip:bob@biloxi.com")
	req.SetParty(party)
	tx := eng.AddMessage(req)
	eng.AddMessage(inRequest(t, sip.MethodOptions, "", party))
	if got := eng.Len(); got != 2 {
		t.Fatalf("eng.Len() = %d, want 2", got)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("eng.Close() error = %v, want nil", err)
	}
	if got := eng.Len(); got != 0 {
		t.Errorf("eng.Len() = %d, want 0", got)
	}
	if got, want := tx.State(), sip.TransactionInvalid; got != want {
		t.Errorf("tx.State() = %v, want %v", got, want)
	}
	if got := eng.AddMessage(inRequest(t, sip.MethodOptions, sip.MagicCookie+"-late", party)); got != nil {
		t.Errorf("eng.AddMessage() after close = %v, want nil", got)
	}
	if err := eng.Run(t.Context()); !errors.Is(err, sip.ErrEngineClosed) {
		t.Errorf("eng.Run() after close error = %v, want %v", err, sip.ErrEngineClosed)
	}
	if err := eng.Close(); err != nil {
		t.Errorf("second eng.Close() error = %v, want nil", err)
	}
}

func TestEngine_Run(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng := sip.NewEngine(&sip.EngineOptions{
		AllowedMethods: []string{sip.MethodOptions},
		PollInterval:   time.Millisecond,
		Workers:        3,
	})
	defer eng.Close()

	var (
		mu       sync.Mutex
		received []string
	)
	eng.OnEvent(func(_ context.Context, ev *sip.Event) bool {
		if holdRequests(ev) {
			mu.Lock()
			received = append(received, ev.Message().Method())
			mu.Unlock()
			return ev.Transaction().SetResponseCode(sip.StatusOK, "")
		}
		return false
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	eng.AddMessage(inRequest(t, sip.MethodOptions, "", party))

	deadline := time.Now().Add(5 * time.Second)
	for party.count(sip.MethodOptions, sip.StatusOK) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no answer was sent")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("eng.Run() error = %v, want nil", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(received, []string{sip.MethodOptions}); diff != "" {
		t.Errorf("received requests mismatch (-got +want):\n%s", diff)
	}
}

func TestEngine_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics, err := sip.NewMetrics(reg)
	if err != nil {
		t.Fatalf("sip.NewMetrics() error = %v, want nil", err)
	}

	party := &stubParty{}
	eng, clock := newTestEngine(t, &sip.EngineOptions{ReqTransCount: 3, Metrics: metrics})

	req := sip.NewRequest(sip.MethodRegister, "sip:registrar.biloxi.com")
	req.SetParty(party)
	eng.AddMessage(req)
	drain(t, eng)
	for range 4 {
		clock.Advance(2 * time.Second)
		drain(t, eng)
	}

	const expected = `
# HELP sip_transaction_active Number of live transactions.
# TYPE sip_transaction_active gauge
sip_transaction_active{kind="client_non_invite"} 0
# HELP sip_transaction_created_total Total number of created transactions.
# TYPE sip_transaction_created_total counter
sip_transaction_created_total{kind="client_non_invite"} 1
# HELP sip_transaction_retransmissions_total Total number of retransmitted messages.
# TYPE sip_transaction_retransmissions_total counter
sip_transaction_retransmissions_total{kind="client_non_invite"} 2
# HELP sip_transaction_timeouts_total Total number of transactions concluded by a timeout.
# TYPE sip_transaction_timeouts_total counter
sip_transaction_timeouts_total{kind="client_non_invite"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"sip_transaction_active",
		"sip_transaction_created_total",
		"sip_transaction_retransmissions_total",
		"sip_transaction_timeouts_total",
	); err != nil {
		t.Error(err)
	}

	got := metrics.Report().Transactions
	want := sip.TransactionStats{
		TransactionsTotal: 1,
		Retransmissions:   2,
		Timeouts:          1,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("metrics.Report().Transactions mismatch (-got +want):\n%s", diff)
	}

	if _, err := sip.NewMetrics(reg); err == nil {
		t.Error("second sip.NewMetrics(reg) error = nil, want already registered error")
	}
}

func TestEngine_Snapshot(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	eng, clock := newTestEngine(t, nil)

	req := sip.NewRequest(sip.MethodInvite, "sip:bob@biloxi.com")
	req.SetParty(party)
	tx := eng.AddMessage(req)
	drain(t, eng)

	got := tx.Snapshot()
	want := sip.TransactionSnapshot{
		Kind:       "client_invite",
		State:      sip.TransactionTrying,
		Method:     sip.MethodInvite,
		Branch:     tx.Branch(),
		CallID:     tx.CallID(),
		TransCount: 5,
		TimerCount: 5,
		TimerDelay: 500 * time.Millisecond,
		Deadline:   clock.Now().Add(500 * time.Millisecond),
	}
	if diff := cmp.Diff(got, want, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("tx.Snapshot() mismatch (-got +want):\n%s", diff)
	}
}
