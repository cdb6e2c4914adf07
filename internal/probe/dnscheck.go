package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DNS classes reported by DNSChecker.Diagnose.
const (
	DNSResolves    = "RESOLVES"
	DNSNXDomain    = "NXDOMAIN"
	DNSNoARecord   = "NO_A_RECORD"
	DNSServfail    = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName = "INVALID_NAME"
)

type DNSStatus struct {
	Domain        string
	HasAOrAAAA    bool
	IPs           []net.IP
	CNAME         string
	HasNS         bool
	Nameservers   []string
	Class         string
	ResolverError string
}

// DNSChecker explains why an http probe could not reach its host.
type DNSChecker struct {
	Resolver string // host:port
	Client   *dns.Client
}

var dnsTimeout = 3 * time.Second

// NewDNSChecker uses resolver, or the first nameserver in /etc/resolv.conf
// when resolver is empty.
func NewDNSChecker(resolver string) *DNSChecker {
	if resolver == "" {
		resolver = "1.1.1.1:53"
		if cc, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cc.Servers) > 0 {
			resolver = net.JoinHostPort(cc.Servers[0], cc.Port)
		}
	}
	return &DNSChecker{
		Resolver: resolver,
		Client:   &dns.Client{Timeout: dnsTimeout},
	}
}

func (d *DNSChecker) Diagnose(ctx context.Context, domain string) DNSStatus {
	s := DNSStatus{Domain: strings.TrimSpace(domain)}
	if s.Domain == "" || strings.Contains(s.Domain, "://") {
		s.Class = DNSInvalidName
		return s
	}
	if ip := net.ParseIP(s.Domain); ip != nil {
		s.HasAOrAAAA = true
		s.IPs = []net.IP{ip}
		s.Class = DNSResolves
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	nx := false
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		in, err := d.query(ctx, s.Domain, qtype)
		if err != nil {
			s.ResolverError = err.Error()
			continue
		}
		switch in.Rcode {
		case dns.RcodeNameError:
			nx = true
		case dns.RcodeSuccess:
		default:
			s.ResolverError = dns.RcodeToString[in.Rcode]
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				s.IPs = append(s.IPs, v.A)
			case *dns.AAAA:
				s.IPs = append(s.IPs, v.AAAA)
			case *dns.CNAME:
				s.CNAME = strings.TrimSuffix(v.Target, ".")
			}
		}
	}
	s.HasAOrAAAA = len(s.IPs) > 0

	if in, err := d.query(ctx, s.Domain, dns.TypeNS); err == nil {
		for _, rr := range in.Answer {
			if ns, ok := rr.(*dns.NS); ok {
				s.Nameservers = append(s.Nameservers, strings.TrimSuffix(ns.Ns, "."))
			}
		}
		s.HasNS = len(s.Nameservers) > 0
	}

	switch {
	case s.HasAOrAAAA:
		s.Class = DNSResolves
	case s.HasNS:
		s.Class = DNSNoARecord
	case nx:
		s.Class = DNSNXDomain
	case s.ResolverError != "":
		s.Class = DNSServfail
	default:
		s.Class = DNSNoARecord
	}
	return s
}

func (d *DNSChecker) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true
	in, _, err := d.Client.ExchangeContext(ctx, m, d.Resolver)
	return in, err
}
