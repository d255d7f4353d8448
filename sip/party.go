package sip

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipengine/dns"
	"github.com/ghettovoice/sipengine/internal/log"
	"github.com/ghettovoice/sipengine/internal/util"
)

// NetParty sends messages through a UDP socket or a stream connection.
//
// A packet party writes to its remote address, a stream party writes to its
// connection and is reliable. NetParty implements [Retargeter]: packet parties
// answer to the top Via sent-by of incoming requests.
type NetParty struct {
	proto  string
	pconn  net.PacketConn
	conn   net.Conn
	remote netip.AddrPort
	mu     *sync.Mutex // serializes stream writes, shared by retargeted copies
}

// NewPacketParty creates an unreliable party sending through conn to raddr.
func NewPacketParty(conn net.PacketConn, raddr netip.AddrPort) *NetParty {
	return &NetParty{proto: "UDP", pconn: conn, remote: raddr, mu: new(sync.Mutex)}
}

// NewConnParty creates a reliable party over a stream connection.
func NewConnParty(conn net.Conn) *NetParty {
	p := &NetParty{proto: "TCP", conn: conn, mu: new(sync.Mutex)}
	if ap, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		p.remote = ap
	}
	return p
}

func (p *NetParty) Reliable() bool { return p.conn != nil }

func (p *NetParty) Proto() string { return p.proto }

func (p *NetParty) LocalAddr() string {
	switch {
	case p.conn != nil:
		return p.conn.LocalAddr().String()
	case p.pconn != nil:
		return p.pconn.LocalAddr().String()
	}
	return ""
}

func (p *NetParty) RemoteAddr() string {
	if !p.remote.IsValid() {
		return ""
	}
	return p.remote.String()
}

// Transmit writes the message in wire format.
// Packets larger than 64 KiB are refused with [ErrMessageTooLarge].
func (p *NetParty) Transmit(ctx context.Context, msg Message) error {
	if msg == nil {
		return errtrace.Wrap(NewInvalidArgumentError("nil message"))
	}
	var buf bytes.Buffer
	if s, ok := msg.(interface{ String() string }); ok {
		buf.WriteString(s.String())
	} else {
		return errtrace.Wrap(NewInvalidArgumentError("message can not be rendered"))
	}

	switch {
	case p.conn != nil:
		p.mu.Lock()
		defer p.mu.Unlock()
		if d, ok := ctx.Deadline(); ok {
			if err := p.conn.SetWriteDeadline(d); err != nil {
				return errtrace.Wrap(err)
			}
			defer p.conn.SetWriteDeadline(time.Time{})
		}
		_, err := p.conn.Write(buf.Bytes())
		return errtrace.Wrap(err)
	case p.pconn != nil:
		if buf.Len() > maxMsgSize {
			return errtrace.Wrap(ErrMessageTooLarge)
		}
		if !p.remote.IsValid() {
			return errtrace.Wrap(ErrNoTarget)
		}
		_, err := p.pconn.WriteTo(buf.Bytes(), net.UDPAddrFromAddrPort(p.remote))
		return errtrace.Wrap(err)
	default:
		return errtrace.Wrap(ErrTransportClosed)
	}
}

// Retarget returns a packet party sending to sentBy through the same socket.
// Stream parties answer on their connection and return themselves.
func (p *NetParty) Retarget(sentBy string) Party {
	if p.conn != nil {
		return p
	}
	ap, err := netip.ParseAddrPort(sentBy)
	if err != nil {
		// sent-by is a host name, keep answering the source address
		return p
	}
	return &NetParty{proto: p.proto, pconn: p.pconn, remote: unmapAddrPort(ap), mu: p.mu}
}

func (p *NetParty) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("proto", p.proto),
		slog.String("local", p.LocalAddr()),
		slog.String("remote", p.RemoteAddr()),
	)
}

// DNSResolver is used to resolve request targets, RFC 3263.
type DNSResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupSRV(ctx context.Context, service, proto, host string) ([]*dns.SRV, error)
	LookupNAPTR(ctx context.Context, host string) ([]*dns.NAPTR, error)
}

var naptrServices = map[string]string{
	"UDP": "SIP+D2U",
	"TCP": "SIP+D2T",
	"TLS": "SIPS+D2T",
}

// ResolveTarget yields the addresses a request for host should be sent to
// over proto: literal addresses as is, host:port by A/AAAA lookup,
// otherwise NAPTR, then SRV, then A/AAAA on the default port 5060.
func ResolveTarget(ctx context.Context, rslvr DNSResolver, host, proto string) iter.Seq[netip.AddrPort] {
	proto = util.UCase(proto)
	if proto == "" {
		proto = "UDP"
	}
	return func(yield func(netip.AddrPort) bool) {
		if ap, err := netip.ParseAddrPort(host); err == nil {
			yield(unmapAddrPort(ap))
			return
		}
		if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
			yield(netip.AddrPortFrom(addr.Unmap(), 5060))
			return
		}
		name, portStr := splitHostPort(host)
		name = strings.Trim(name, "[]")
		if addr, err := netip.ParseAddr(name); err == nil {
			yield(netip.AddrPortFrom(addr.Unmap(), parsePort(portStr)))
			return
		}
		if portStr != "" {
			yieldIPs(ctx, rslvr, name, parsePort(portStr), yield)
			return
		}

		srvName := ""
		if recs, err := rslvr.LookupNAPTR(ctx, name); err == nil {
			for _, rec := range recs {
				if util.EqFold(rec.Flags, "s") && util.EqFold(rec.Service, naptrServices[proto]) {
					srvName = strings.TrimSuffix(rec.Replacement, ".")
					break
				}
			}
		}

		var srvs []*dns.SRV
		if srvName != "" {
			srvs, _ = rslvr.LookupSRV(ctx, "", "", srvName)
		} else {
			service, network := "sip", util.LCase(proto)
			if proto == "TLS" {
				service, network = "sips", "tcp"
			}
			srvs, _ = rslvr.LookupSRV(ctx, service, network, name)
		}
		if len(srvs) > 0 {
			srvs = slices.SortedFunc(slices.Values(srvs), func(e1, e2 *dns.SRV) int {
				switch {
				case e1.Priority != e2.Priority:
					return int(e1.Priority) - int(e2.Priority)
				case e1.Weight != e2.Weight:
					return int(e2.Weight) - int(e1.Weight)
				default:
					return strings.Compare(e1.Target, e2.Target)
				}
			})
			for _, srv := range srvs {
				if !yieldIPs(ctx, rslvr, strings.TrimSuffix(srv.Target, "."), srv.Port, yield) {
					return
				}
			}
			return
		}
		yieldIPs(ctx, rslvr, name, 5060, yield)
	}
}

func yieldIPs(ctx context.Context, rslvr DNSResolver, host string, port uint16, yield func(netip.AddrPort) bool) bool {
	ips, err := rslvr.LookupIP(ctx, "ip", host)
	if err != nil {
		return true
	}
	for _, ip := range ips {
		if addr, ok := netip.AddrFromSlice(ip); ok {
			if !yield(netip.AddrPortFrom(addr.Unmap(), port)) {
				return false
			}
		}
	}
	return true
}

// unmapAddrPort turns IPv4-mapped IPv6 addresses into plain IPv4 ones.
func unmapAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func parsePort(s string) uint16 {
	if n, err := strconv.ParseUint(s, 10, 16); err == nil && n > 0 {
		return uint16(n)
	}
	return 5060
}

// ServePacket reads datagrams from conn and adds them to the engine until the
// context is done or the connection fails.
func (e *Engine) ServePacket(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	e.log.LogAttrs(ctx, slog.LevelDebug, "begin serving the connection", slog.Any("local", conn.LocalAddr()))
	defer e.log.LogAttrs(ctx, slog.LevelDebug, "serving the connection finished", slog.Any("local", conn.LocalAddr()))

	buf := make([]byte, maxMsgSize)
	for {
		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return errtrace.Wrap(ErrTransportClosed)
			}
			return errtrace.Wrap(err)
		}
		ap, err := netip.ParseAddrPort(raddr.String())
		if err != nil {
			continue
		}
		if _, err := e.AddPacket(buf[:n], NewPacketParty(conn, unmapAddrPort(ap))); err != nil {
			e.log.LogAttrs(ctx, slog.LevelDebug, "discarding invalid packet",
				slog.Any("remote", raddr),
				slog.Any("data", log.StringValue(buf[:n])),
				slog.Any("error", err),
			)
		}
	}
}

// ServeConn reads a message stream from conn and adds the messages to the
// engine until the context is done or the stream breaks.
func (e *Engine) ServeConn(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	party := NewConnParty(conn)
	for msg, err := range ParseStream(conn, party) {
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return errtrace.Wrap(ErrTransportClosed)
			}
			e.log.LogAttrs(ctx, slog.LevelDebug, "discarding invalid message",
				slog.Any("party", party),
				slog.Any("error", err),
			)
			continue
		}
		e.AddMessage(msg)
	}
	return nil
}
