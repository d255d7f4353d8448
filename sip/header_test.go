package sip_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipengine/sip"
)

func TestCanonicHeaderName(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"v":                "Via",
		"i":                "Call-ID",
		"call-id":          "Call-ID",
		"CSEQ":             "CSeq",
		"www-authenticate": "WWW-Authenticate",
		" max-forwards ":   "Max-Forwards",
		"x-custom-header":  "X-Custom-Header",
	} {
		if got := sip.CanonicHeaderName(in); got != want {
			t.Errorf("sip.CanonicHeaderName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewHeaderLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, value string
		want        *sip.HeaderLine
	}{
		{
			"Via", "SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776;rport",
			&sip.HeaderLine{
				Name:  "Via",
				Value: "SIP/2.0/UDP pc33.atlanta.com",
				Params: []sip.HeaderParam{
					{Name: "branch", Value: "z9hG4bK776"},
					{Name: "rport", Flag: true},
				},
			},
		},
		{
			"t", `"Bob; the builder" <sip:bob@biloxi.com;transport=tcp>;tag=a6c85cf`,
			&sip.HeaderLine{
				Name:   "To",
				Value:  `"Bob; the builder" <sip:bob@biloxi.com;transport=tcp>`,
				Params: []sip.HeaderParam{{Name: "tag", Value: "a6c85cf"}},
			},
		},
		{
			"Call-ID", "a84b;c76@pc33",
			&sip.HeaderLine{Name: "Call-ID", Value: "a84b;c76@pc33"},
		},
		{
			"WWW-Authenticate", `Digest realm="atlanta.com", nonce="84a4,cc6f", qop="auth"`,
			&sip.HeaderLine{
				Name:  "WWW-Authenticate",
				Value: "Digest",
				Params: []sip.HeaderParam{
					{Name: "realm", Value: `"atlanta.com"`},
					{Name: "nonce", Value: `"84a4,cc6f"`},
					{Name: "qop", Value: `"auth"`},
				},
			},
		},
	}
	for _, c := range cases {
		got := sip.NewHeaderLine(c.name, c.value)
		if diff := cmp.Diff(got, c.want); diff != "" {
			t.Errorf("sip.NewHeaderLine(%q, %q) mismatch (-got +want):\n%s", c.name, c.value, diff)
		}
	}
}

func TestNewHeaderLines(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, value string
		want        []string
	}{
		{
			"v", "SIP/2.0/UDP bigbox3.site3.atlanta.com;branch=z9hG4bK-top, SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776",
			[]string{
				"Via: SIP/2.0/UDP bigbox3.site3.atlanta.com;branch=z9hG4bK-top",
				"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776",
			},
		},
		{
			"Record-Route", `<sip:p1.example.com;lr>,<sip:p2.example.com;lr>`,
			[]string{"Record-Route: <sip:p1.example.com;lr>", "Record-Route: <sip:p2.example.com;lr>"},
		},
		{
			"Contact", `"Smith, John" <sip:john@example.com>;expires=60`,
			[]string{`Contact: "Smith, John" <sip:john@example.com>;expires=60`},
		},
		{
			"Subject", "lunch, tomorrow",
			[]string{"Subject: lunch, tomorrow"},
		},
	}
	for _, c := range cases {
		var got []string
		for _, h := range sip.NewHeaderLines(c.name, c.value) {
			got = append(got, h.String())
		}
		if diff := cmp.Diff(got, c.want); diff != "" {
			t.Errorf("sip.NewHeaderLines(%q, %q) mismatch (-got +want):\n%s", c.name, c.value, diff)
		}
	}
}

func TestHeaderLine_Params(t *testing.T) {
	t.Parallel()

	h := sip.NewHeaderLine("From", `Alice <sip:alice@atlanta.com>;TAG="1928";lr`)
	if v, ok := h.Param("tag"); !ok || v != "1928" {
		t.Errorf("h.Param(\"tag\") = %q, %v, want \"1928\", true", v, ok)
	}
	if v, ok := h.Param("lr"); !ok || v != "" {
		t.Errorf("h.Param(\"lr\") = %q, %v, want \"\", true", v, ok)
	}
	if _, ok := h.Param("maddr"); ok {
		t.Error("h.Param(\"maddr\") found, want missing")
	}

	h.SetParam("lr", "on")
	h.SetParam("ttl", "16")
	h.DelParam("tag")
	if got, want := h.String(), "From: Alice <sip:alice@atlanta.com>;lr=on;ttl=16"; got != want {
		t.Errorf("h.String() = %q, want %q", got, want)
	}
}

func TestHeaderLine_Text_Auth(t *testing.T) {
	t.Parallel()

	h := sip.NewHeaderLine("Proxy-Authorization", `Digest username="alice",realm="atlanta.com"`)
	if got, want := h.Text(), `Digest username="alice",realm="atlanta.com"`; got != want {
		t.Errorf("h.Text() = %q, want %q", got, want)
	}
}
