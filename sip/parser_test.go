package sip_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipengine/sip"
)

const rawInvite = "INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: Bob <sip:bob@biloxi.com>\r\n" +
	"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@pc33.atlanta.com>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"v=0\n"

func TestParsePacket(t *testing.T) {
	t.Parallel()

	party := &stubParty{}
	msg, err := sip.ParsePacket([]byte(rawInvite), party)
	if err != nil {
		t.Fatalf("sip.ParsePacket() error = %v, want nil", err)
	}

	type view struct {
		Method, URI, CallID string
		CSeq                int
		Answer, Outgoing    bool
		Branch, FromTag     string
		Body                string
	}
	branch, _ := msg.Param("v", "branch")
	fromTag, _ := msg.Param("From", "tag")
	callID, _ := msg.HeaderValue("i")
	got := view{
		Method:   msg.Method(),
		URI:      msg.URI(),
		CallID:   callID,
		CSeq:     msg.CSeq(),
		Answer:   msg.IsAnswer(),
		Outgoing: msg.IsOutgoing(),
		Branch:   branch,
		FromTag:  fromTag,
		Body:     string(msg.Body()),
	}
	want := view{
		Method:  sip.MethodInvite,
		URI:     "sip:bob@biloxi.com",
		CallID:  "a84b4c76e66710@pc33.atlanta.com",
		CSeq:    314159,
		Branch:  "z9hG4bK776asdhds",
		FromTag: "1928301774",
		Body:    "v=0\n",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("parsed message mismatch (-got +want):\n%s", diff)
	}
	if msg.Party() != party {
		t.Error("msg.Party() is not the receiving party")
	}
}

func TestParsePacket_Response(t *testing.T) {
	t.Parallel()

	raw := "SIP/2.0 180 Ringing Now\r\n" +
		"v: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
		"t: Bob <sip:bob@biloxi.com>;tag=a6c85cf\r\n" +
		"f: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
		"i: a84b4c76e66710@pc33.atlanta.com\r\n" +
		"CSeq: 314159 invite\r\n" +
		"l: 0\r\n\r\n"
	msg, err := sip.ParsePacket([]byte(raw), nil)
	if err != nil {
		t.Fatalf("sip.ParsePacket() error = %v, want nil", err)
	}
	if !msg.IsAnswer() || msg.Code() != sip.StatusRinging || msg.Reason() != "Ringing Now" {
		t.Errorf("parsed answer = %d %q, want 180 \"Ringing Now\"", msg.Code(), msg.Reason())
	}
	if got := msg.Method(); got != sip.MethodInvite {
		t.Errorf("msg.Method() = %q, want %q", got, sip.MethodInvite)
	}
	if tag, _ := msg.Param("To", "tag"); tag != "a6c85cf" {
		t.Errorf("To tag = %q, want \"a6c85cf\"", tag)
	}
}

func TestParsePacket_NoContentLength(t *testing.T) {
	t.Parallel()

	raw := strings.Replace(rawInvite, "Content-Length: 4\r\n", "", 1) + "o=-"
	msg, err := sip.ParsePacket([]byte(raw), nil)
	if err != nil {
		t.Fatalf("sip.ParsePacket() error = %v, want nil", err)
	}
	if got, want := string(msg.Body()), "v=0\no=-"; got != want {
		t.Errorf("msg.Body() = %q, want %q", got, want)
	}
}

func TestParsePacket_FoldedHeader(t *testing.T) {
	t.Parallel()

	raw := strings.Replace(rawInvite, "Max-Forwards: 70\r\n", "Subject: lunch\r\n  tomorrow\r\nMax-Forwards: 70\r\n", 1)
	msg, err := sip.ParsePacket([]byte(raw), nil)
	if err != nil {
		t.Fatalf("sip.ParsePacket() error = %v, want nil", err)
	}
	if got, _ := msg.HeaderValue("Subject"); got != "lunch tomorrow" {
		t.Errorf("Subject = %q, want \"lunch tomorrow\"", got)
	}
}

func TestParsePacket_CombinedVia(t *testing.T) {
	t.Parallel()

	raw := strings.Replace(rawInvite,
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n",
		"Via: SIP/2.0/UDP bigbox3.site3.atlanta.com;branch=z9hG4bK-top, SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n",
		1,
	)
	msg, err := sip.ParsePacket([]byte(raw), nil)
	if err != nil {
		t.Fatalf("sip.ParsePacket() error = %v, want nil", err)
	}
	if branch, _ := msg.Param("Via", "branch"); branch != "z9hG4bK-top" {
		t.Errorf("top Via branch = %q, want \"z9hG4bK-top\"", branch)
	}
	if got := len(msg.Headers("Via")); got != 2 {
		t.Errorf("len(msg.Headers(\"Via\")) = %d, want 2", got)
	}
}

func TestParsePacket_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		input   string
		state   sip.ParseState
		wantErr error
	}{
		{"empty", "", sip.ParseStateStart, io.EOF},
		{"bad request line", "INVITE qwerty\r\n\r\n", sip.ParseStateStart, sip.ErrInvalidMessage},
		{"bad version", "INVITE sip:bob@biloxi.com SIP/3.0\r\n\r\n", sip.ParseStateStart, sip.ErrInvalidMessage},
		{"bad status", "SIP/2.0 99 Weird\r\n\r\n", sip.ParseStateStart, sip.ErrInvalidMessage},
		{
			"incomplete headers",
			"INVITE sip:bob@biloxi.com SIP/2.0\r\nVia: SIP/2.0/UDP a.example.com;branch=qwerty\r\n",
			sip.ParseStateHeaders,
			io.ErrUnexpectedEOF,
		},
		{
			"malformed header",
			strings.Replace(rawInvite, "Max-Forwards: 70", "Max-Forwards 70", 1),
			sip.ParseStateHeaders,
			sip.ErrInvalidMessage,
		},
		{
			"bad content length",
			strings.Replace(rawInvite, "Content-Length: 4", "Content-Length: -4", 1),
			sip.ParseStateHeaders,
			sip.ErrInvalidMessage,
		},
		{
			"truncated body",
			strings.Replace(rawInvite, "Content-Length: 4", "Content-Length: 40", 1),
			sip.ParseStateBody,
			io.ErrUnexpectedEOF,
		},
	}
	for _, c := range cases {
		_, err := sip.ParsePacket([]byte(c.input), nil)
		var perr *sip.ParseError
		if !errors.As(err, &perr) {
			t.Errorf("%s: sip.ParsePacket() error = %v, want *sip.ParseError", c.name, err)
			continue
		}
		if perr.State != c.state {
			t.Errorf("%s: parse state = %v, want %v", c.name, perr.State, c.state)
		}
		if !errors.Is(err, c.wantErr) {
			t.Errorf("%s: sip.ParsePacket() error = %v, want %v", c.name, err, c.wantErr)
		}
	}
}

func TestParsePacket_MissingHeaders(t *testing.T) {
	t.Parallel()

	// left to the transaction to answer with 400
	raw := strings.Replace(rawInvite, "Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n", "", 1)
	raw = strings.Replace(raw, "314159 INVITE", "314159 BYE", 1)
	if _, err := sip.ParsePacket([]byte(raw), nil); err != nil {
		t.Errorf("sip.ParsePacket(no Call-ID) error = %v, want nil", err)
	}

	raw = strings.Replace(rawInvite, "Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n", "", 1)
	if _, err := sip.ParsePacket([]byte(raw), nil); err == nil || !strings.Contains(err.Error(), "Via") {
		t.Errorf("sip.ParsePacket(no Via) error = %v, want missing Via", err)
	}

	answer := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
		"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
		"Content-Length: 0\r\n\r\n"
	if _, err := sip.ParsePacket([]byte(answer), nil); err == nil || !strings.Contains(err.Error(), "CSeq") {
		t.Errorf("sip.ParsePacket(answer without CSeq) error = %v, want missing CSeq", err)
	}
}

func TestParsePacket_LargeBodyWithoutLength(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 6000)
	raw := strings.Replace(rawInvite, "Content-Length: 4\r\n", "", 1)
	raw = strings.TrimSuffix(raw, "v=0\n") + body
	msg, err := sip.ParsePacket([]byte(raw), nil)
	if err != nil {
		t.Fatalf("sip.ParsePacket() error = %v, want nil", err)
	}
	if got := len(msg.Body()); got != len(body) {
		t.Errorf("len(msg.Body()) = %d, want %d", got, len(body))
	}

	raw = strings.Replace(rawInvite, "Content-Length: 4\r\n", "", 1) + strings.Repeat("x", 1<<16)
	if _, err := sip.ParsePacket([]byte(raw), nil); !errors.Is(err, sip.ErrMessageTooLarge) {
		t.Errorf("sip.ParsePacket(huge) error = %v, want %v", err, sip.ErrMessageTooLarge)
	}
}

func TestParseStream(t *testing.T) {
	t.Parallel()

	bye := "BYE sip:alice@pc33.atlanta.com SIP/2.0\r\n" +
		"Via: SIP/2.0/TCP 192.0.2.4;branch=z9hG4bKnashds10\r\n" +
		"From: Bob <sip:bob@biloxi.com>;tag=a6c85cf\r\n" +
		"To: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
		"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
		"CSeq: 231 BYE\r\n" +
		"Content-Length: 0\r\n\r\n"
	input := rawInvite + "\r\n\r\n" + bye

	party := &stubParty{reliable: true}
	var (
		methods []string
		lastErr error
	)
	for msg, err := range sip.ParseStream(strings.NewReader(input), party) {
		if err != nil {
			lastErr = err
			break
		}
		if msg.Party() != party {
			t.Error("msg.Party() is not the stream party")
		}
		methods = append(methods, msg.Method())
	}
	if diff := cmp.Diff(methods, []string{sip.MethodInvite, sip.MethodBye}); diff != "" {
		t.Errorf("parsed methods mismatch (-got +want):\n%s", diff)
	}
	if !errors.Is(lastErr, io.EOF) {
		t.Errorf("final stream error = %v, want %v", lastErr, io.EOF)
	}
}

func TestParseStream_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			"missing content length",
			strings.Replace(rawInvite, "Content-Length: 4\r\n", "", 1),
			sip.ErrInvalidMessage,
		},
		{
			"cut in the middle",
			rawInvite[:len(rawInvite)-2],
			io.ErrUnexpectedEOF,
		},
	}
	for _, c := range cases {
		var errs []error
		for _, err := range sip.ParseStream(strings.NewReader(c.input), nil) {
			if err != nil {
				errs = append(errs, err)
			}
			if len(errs) > 0 {
				break
			}
		}
		if len(errs) == 0 || !errors.Is(errs[0], c.wantErr) {
			t.Errorf("%s: stream errors = %v, want %v", c.name, errs, c.wantErr)
		}
	}
}
