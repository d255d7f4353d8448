package sip_test

import (
	"bytes"
	"errors"
	"log/slog"
	"net/netip"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/ghettovoice/sipengine/internal/testutil/sipmock"
	"github.com/ghettovoice/sipengine/sip"
)

func TestNewLogParty(t *testing.T) {
	t.Parallel()

	if got := sip.NewLogParty(nil, slog.Default(), slog.LevelInfo); got != nil {
		t.Errorf("sip.NewLogParty(nil) = %v, want nil", got)
	}

	ctrl := gomock.NewController(t)
	party := sipmock.NewMockParty(ctrl)
	party.EXPECT().RemoteAddr().Return("127.0.0.1:5070").AnyTimes()
	gomock.InOrder(
		party.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(nil),
		party.EXPECT().Transmit(gomock.Any(), gomock.Any()).Return(errors.New("network is unreachable")),
	)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	lp := sip.NewLogParty(party, logger, slog.LevelInfo)
	if again := sip.NewLogParty(lp, logger, slog.LevelInfo); again != lp {
		t.Error("decorating twice wrapped the party again")
	}

	msg := sip.NewRequest(sip.MethodOptions, "sip:bob@biloxi.com")
	if err := lp.Transmit(t.Context(), msg); err != nil {
		t.Fatalf("lp.Transmit() error = %v, want nil", err)
	}
	if err := lp.Transmit(t.Context(), msg); err == nil {
		t.Fatal("lp.Transmit() error = nil, want error")
	}
	out := buf.String()
	for _, want := range []string{"sent the message", "failed to send the message", "network is unreachable"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output does not contain %q:\n%s", want, out)
		}
	}

	// parties without retargeting stay as they are
	if got := lp.(sip.Retargeter).Retarget("192.0.2.1:5060"); got != lp {
		t.Errorf("lp.Retarget() = %v, want the same party", got)
	}
}

func TestNewLogParty_Retarget(t *testing.T) {
	t.Parallel()

	conn := listenUDP(t)
	lp := sip.NewLogParty(sip.NewPacketParty(conn, netip.MustParseAddrPort("127.0.0.1:5070")), slog.Default(), slog.LevelDebug)

	got := lp.(sip.Retargeter).Retarget("127.0.0.1:5999")
	if got.RemoteAddr() != "127.0.0.1:5999" {
		t.Errorf("retargeted RemoteAddr() = %q, want \"127.0.0.1:5999\"", got.RemoteAddr())
	}
	if _, ok := got.(sip.Retargeter); !ok {
		t.Error("retargeted party lost the decoration")
	}
}
