// Package dns resolves SIP targets, RFC 3263.
//
// A and AAAA lookups go through the system resolver, NAPTR and SRV records
// are queried directly from the configured name server.
package dns

//go:generate errtrace -w .

import (
	"cmp"
	"context"
	"net"
	"slices"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

// Resolver looks up addresses and service records.
type Resolver struct {
	net.Resolver

	// NameServer is the address of the server queried for NAPTR and SRV records,
	// e.g. "8.8.8.8:53". If empty, the first server of /etc/resolv.conf is used.
	NameServer string
	// Timeout is the timeout of a single query.
	// If zero, 5 seconds is used.
	Timeout time.Duration
}

// LookupIP returns IPv4 addresses in their 4 byte form.
func (r *Resolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	ips, err := r.Resolver.LookupIP(ctx, network, host)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	for i, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			ips[i] = ip4
		}
	}
	return ips, nil
}

type SRV = net.SRV

// LookupSRV queries _service._proto.host SRV records.
// With empty service and proto the host is queried as is, that is the case
// of names taken from NAPTR replacements.
func (r *Resolver) LookupSRV(ctx context.Context, service, proto, host string) ([]*SRV, error) {
	name := host
	if service != "" || proto != "" {
		name = "_" + service + "._" + proto + "." + host
	}
	answer, err := r.query(ctx, name, dns.TypeSRV)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	srvs := make([]*SRV, 0, len(answer))
	for _, ans := range answer {
		if rr, ok := ans.(*dns.SRV); ok {
			srvs = append(srvs, &SRV{
				Target:   rr.Target,
				Port:     rr.Port,
				Priority: rr.Priority,
				Weight:   rr.Weight,
			})
		}
	}
	return srvs, nil
}

// NAPTR is a naming authority pointer record, RFC 3403.
type NAPTR struct {
	// Order of processing, lower first.
	Order uint16
	// Preference among records of equal Order, lower first.
	Preference uint16
	// Flags: "s" for a following SRV lookup, "a" for A/AAAA, "u" for a terminal URI.
	Flags string
	// Service: "SIP+D2U" (UDP), "SIP+D2T" (TCP), "SIPS+D2T" (TLS).
	Service string
	Regexp  string
	// Replacement is the next name to query.
	Replacement string
}

// LookupNAPTR returns NAPTR records of host sorted by order, then by preference.
func (r *Resolver) LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error) {
	answer, err := r.query(ctx, host, dns.TypeNAPTR)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	recs := make([]*NAPTR, 0, len(answer))
	for _, ans := range answer {
		if rr, ok := ans.(*dns.NAPTR); ok {
			recs = append(recs, &NAPTR{
				Order:       rr.Order,
				Preference:  rr.Preference,
				Flags:       strings.ToLower(rr.Flags),
				Service:     strings.ToUpper(rr.Service),
				Regexp:      rr.Regexp,
				Replacement: rr.Replacement,
			})
		}
	}
	slices.SortFunc(recs, func(a, b *NAPTR) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.Preference, b.Preference))
	})
	return recs, nil
}

func (r *Resolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	nameserver, err := r.nameserver()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	client := &dns.Client{Timeout: r.timeout()}
	resp, _, err := client.ExchangeContext(ctx, m, nameserver)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:        dns.RcodeToString[resp.Rcode],
			Name:       name,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		})
	}
	return resp.Answer, nil
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Second
}

func (r *Resolver) nameserver() (string, error) {
	if r.NameServer != "" {
		if _, _, err := net.SplitHostPort(r.NameServer); err != nil {
			return net.JoinHostPort(r.NameServer, "53"), nil //nolint:nilerr
		}
		return r.NameServer, nil
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	if len(conf.Servers) == 0 {
		return "", errtrace.Wrap(&net.DNSError{
			Err:  "no DNS servers configured",
			Name: "resolv.conf",
		})
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

var defResolver = &Resolver{}

// DefaultResolver returns the resolver used by package level functions.
func DefaultResolver() *Resolver { return defResolver }
