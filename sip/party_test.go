package sip_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipengine/dns"
	"github.com/ghettovoice/sipengine/sip"
)

type fakeResolver struct {
	ips   map[string][]net.IP
	srvs  map[string][]*dns.SRV
	naptr map[string][]*dns.NAPTR
}

var errNotFound = errors.New("not found")

func (r *fakeResolver) LookupIP(_ context.Context, _, host string) ([]net.IP, error) {
	if ips, ok := r.ips[host]; ok {
		return ips, nil
	}
	return nil, errNotFound
}

func (r *fakeResolver) LookupSRV(_ context.Context, service, proto, host string) ([]*dns.SRV, error) {
	name := host
	if service != "" || proto != "" {
		name = "_" + service + "._" + proto + "." + host
	}
	if srvs, ok := r.srvs[name]; ok {
		return srvs, nil
	}
	return nil, errNotFound
}

func (r *fakeResolver) LookupNAPTR(_ context.Context, host string) ([]*dns.NAPTR, error) {
	if recs, ok := r.naptr[host]; ok {
		return recs, nil
	}
	return nil, errNotFound
}

func TestResolveTarget(t *testing.T) {
	t.Parallel()

	rslvr := &fakeResolver{
		ips: map[string][]net.IP{
			"biloxi.com":       {net.ParseIP("192.0.2.4")},
			"plain.example":    {net.ParseIP("192.0.2.10"), net.ParseIP("2001:db8::10")},
			"a.srv.example":    {net.ParseIP("192.0.2.21")},
			"b.srv.example":    {net.ParseIP("192.0.2.22")},
			"c.srv.example":    {net.ParseIP("192.0.2.23")},
			"udp.naptr.target": {net.ParseIP("192.0.2.31")},
		},
		srvs: map[string][]*dns.SRV{
			"_sip._tcp.srv.example": {
				{Target: "a.srv.example.", Port: 5070, Priority: 20, Weight: 10},
				{Target: "c.srv.example.", Port: 5072, Priority: 10, Weight: 5},
				{Target: "b.srv.example.", Port: 5071, Priority: 10, Weight: 50},
			},
			"_sips._tcp.srv.example": {
				{Target: "a.srv.example.", Port: 5061, Priority: 10},
			},
			"_sip._udp.naptr.example": {
				{Target: "udp.naptr.target.", Port: 5080},
			},
		},
		naptr: map[string][]*dns.NAPTR{
			"naptr.example": {
				{Order: 10, Flags: "s", Service: "SIP+D2T", Replacement: "_sip._tcp.naptr.example."},
				{Order: 20, Flags: "s", Service: "SIP+D2U", Replacement: "_sip._udp.naptr.example."},
			},
		},
	}

	cases := []struct {
		host, proto string
		want        []string
	}{
		{"192.0.2.1:5070", "udp", []string{"192.0.2.1:5070"}},
		{"192.0.2.1", "udp", []string{"192.0.2.1:5060"}},
		{"2001:db8::1", "udp", []string{"[2001:db8::1]:5060"}},
		{"[2001:db8::1]:5080", "tcp", []string{"[2001:db8::1]:5080"}},
		{"[::ffff:192.0.2.1]:5080", "udp", []string{"192.0.2.1:5080"}},
		{"biloxi.com:5070", "udp", []string{"192.0.2.4:5070"}},
		{"plain.example", "", []string{"192.0.2.10:5060", "[2001:db8::10]:5060"}},
		{"srv.example", "TCP", []string{"192.0.2.22:5071", "192.0.2.23:5072", "192.0.2.21:5070"}},
		{"srv.example", "TLS", []string{"192.0.2.21:5061"}},
		{"naptr.example", "UDP", []string{"192.0.2.31:5080"}},
		{"unknown.example", "UDP", nil},
	}
	for _, c := range cases {
		var got []string
		for ap := range sip.ResolveTarget(t.Context(), rslvr, c.host, c.proto) {
			got = append(got, ap.String())
		}
		if diff := cmp.Diff(got, c.want); diff != "" {
			t.Errorf("sip.ResolveTarget(%q, %q) mismatch (-got +want):\n%s", c.host, c.proto, diff)
		}
	}

	// consumers may stop early
	for ap := range sip.ResolveTarget(t.Context(), rslvr, "srv.example", "tcp") {
		if got := ap.String(); got != "192.0.2.22:5071" {
			t.Errorf("first target = %s, want 192.0.2.22:5071", got)
		}
		break
	}
}

func listenUDP(tb testing.TB) net.PacketConn {
	tb.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("net.ListenPacket() error = %v, want nil", err)
	}
	tb.Cleanup(func() { conn.Close() })
	return conn
}

func addrPort(tb testing.TB, addr net.Addr) netip.AddrPort {
	tb.Helper()

	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		tb.Fatalf("netip.ParseAddrPort(%s) error = %v, want nil", addr, err)
	}
	return ap
}

func readPacket(tb testing.TB, conn net.PacketConn) *sip.Msg {
	tb.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		tb.Fatal(err)
	}
	buf := make([]byte, 1<<16)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		tb.Fatalf("conn.ReadFrom() error = %v, want nil", err)
	}
	msg, err := sip.ParsePacket(buf[:n], nil)
	if err != nil {
		tb.Fatalf("sip.ParsePacket() error = %v, want nil", err)
	}
	return msg
}

func TestNetParty_Packet(t *testing.T) {
	t.Parallel()

	local, remote := listenUDP(t), listenUDP(t)
	party := sip.NewPacketParty(local, addrPort(t, remote.LocalAddr()))
	if party.Reliable() || party.Proto() != "UDP" {
		t.Errorf("party = %v/%v, want unreliable UDP", party.Proto(), party.Reliable())
	}
	if got, want := party.RemoteAddr(), remote.LocalAddr().String(); got != want {
		t.Errorf("party.RemoteAddr() = %q, want %q", got, want)
	}
	if got, want := party.LocalAddr(), local.LocalAddr().String(); got != want {
		t.Errorf("party.LocalAddr() = %q, want %q", got, want)
	}

	req := inRequest(t, sip.MethodOptions, "", party)
	if err := party.Transmit(t.Context(), req); err != nil {
		t.Fatalf("party.Transmit() error = %v, want nil", err)
	}
	got := readPacket(t, remote)
	if got.Method() != sip.MethodOptions || got.CSeq() != 314159 {
		t.Errorf("received %v, want OPTIONS 314159", got)
	}

	huge := sip.NewRequest(sip.MethodMessage, "sip:bob@biloxi.com")
	huge.SetBody("text/plain", []byte(strings.Repeat("x", 1<<16)))
	if err := party.Transmit(t.Context(), huge); !errors.Is(err, sip.ErrMessageTooLarge) {
		t.Errorf("party.Transmit(huge) error = %v, want %v", err, sip.ErrMessageTooLarge)
	}

	noTarget := sip.NewPacketParty(local, netip.AddrPort{})
	if err := noTarget.Transmit(t.Context(), req); !errors.Is(err, sip.ErrNoTarget) {
		t.Errorf("noTarget.Transmit() error = %v, want %v", err, sip.ErrNoTarget)
	}
	if err := new(sip.NetParty).Transmit(t.Context(), req); !errors.Is(err, sip.ErrTransportClosed) {
		t.Errorf("empty party Transmit() error = %v, want %v", err, sip.ErrTransportClosed)
	}

	moved := party.Retarget("192.0.2.7:5090")
	if got := moved.RemoteAddr(); got != "192.0.2.7:5090" {
		t.Errorf("moved.RemoteAddr() = %q, want \"192.0.2.7:5090\"", got)
	}
	if got := party.Retarget("[::ffff:192.0.2.8]:5090").RemoteAddr(); got != "192.0.2.8:5090" {
		t.Errorf("mapped retarget RemoteAddr() = %q, want \"192.0.2.8:5090\"", got)
	}
	if got := party.Retarget("pc33.atlanta.com:5060"); got != sip.Party(party) {
		t.Errorf("party.Retarget(host name) = %v, want the same party", got)
	}
}

func rawOptions(proto, sentBy, branch string) string {
	return "OPTIONS sip:bob@127.0.0.1 SIP/2.0\r\n" +
		"Via: SIP/2.0/" + proto + " " + sentBy + ";branch=" + branch + "\r\n" +
		"Max-Forwards: 70\r\n" +
		"To: <sip:bob@127.0.0.1>\r\n" +
		"From: <sip:alice@127.0.0.1>;tag=88sja8x\r\n" +
		"Call-ID: " + testCallID + "\r\n" +
		"CSeq: 63104 OPTIONS\r\n" +
		"Content-Length: 0\r\n\r\n"
}

// answerOK answers every fresh request with 200.
func answerOK(_ context.Context, ev *sip.Event) bool {
	if holdRequests(ev) {
		return ev.Transaction().SetResponseCode(sip.StatusOK, "")
	}
	return false
}

func waitTransactions(tb testing.TB, eng *sip.Engine, n int) {
	tb.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for eng.Len() < n {
		if time.Now().After(deadline) {
			tb.Fatalf("eng.Len() = %d, want %d", eng.Len(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_ServePacket(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	eng.OnEvent(answerOK)

	srv, client := listenUDP(t), listenUDP(t)
	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() { errc <- eng.ServePacket(ctx, srv) }()

	if _, err := client.WriteTo([]byte("garbage"), srv.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	raw := rawOptions("UDP", client.LocalAddr().String(), sip.MagicCookie+"-udp")
	if _, err := client.WriteTo([]byte(raw), srv.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	waitTransactions(t, eng, 1)
	drain(t, eng)

	ans := readPacket(t, client)
	if ans.Code() == sip.StatusTrying {
		ans = readPacket(t, client)
	}
	if ans.Code() != sip.StatusOK || ans.Method() != sip.MethodOptions {
		t.Errorf("received %d %s, want 200 OPTIONS", ans.Code(), ans.Method())
	}
	if got := eng.Len(); got != 1 {
		t.Errorf("eng.Len() = %d, want 1", got)
	}

	cancel()
	if err := <-errc; !errors.Is(err, sip.ErrTransportClosed) {
		t.Errorf("eng.ServePacket() error = %v, want %v", err, sip.ErrTransportClosed)
	}
}

func TestEngine_ServeConn(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	eng.OnEvent(answerOK)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	srv, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() { errc <- eng.ServeConn(ctx, srv) }()

	raw := rawOptions("TCP", client.LocalAddr().String(), sip.MagicCookie+"-tcp")
	if _, err := client.Write([]byte("\r\n\r\n" + raw)); err != nil {
		t.Fatal(err)
	}

	waitTransactions(t, eng, 1)
	drain(t, eng)

	if err := client.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var codes []int
	for msg, err := range sip.ParseStream(client, nil) {
		if err != nil {
			t.Fatalf("reading answer error = %v, want nil", err)
		}
		codes = append(codes, msg.Code())
		if msg.Code() >= 200 {
			break
		}
	}
	if !slices.Contains(codes, sip.StatusOK) {
		t.Errorf("received codes %v, want 200", codes)
	}
	// Timer J is zero on streams
	if got := eng.Len(); got != 0 {
		t.Errorf("eng.Len() = %d, want 0", got)
	}

	cancel()
	if err := <-errc; !errors.Is(err, sip.ErrTransportClosed) {
		t.Errorf("eng.ServeConn() error = %v, want %v", err, sip.ErrTransportClosed)
	}
}
