package delegation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DNSResolver queries one recursive resolver with miekg/dns.
type DNSResolver struct {
	addr   string
	client *dns.Client
}

// NewDNSResolver creates a resolver for addr ("host:port").
func NewDNSResolver(addr string, timeout time.Duration) *DNSResolver {
	return &DNSResolver{
		addr:   addr,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupCNAME returns the CNAME target of name with a trailing dot.
func (r *DNSResolver) LookupCNAME(ctx context.Context, name string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeCNAME)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.addr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrResolverFailure, err)
	}
	if in.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
		if in, _, err = tcp.ExchangeContext(ctx, msg, r.addr); err != nil {
			return "", fmt.Errorf("%w: %w", ErrResolverFailure, err)
		}
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", ErrCNAMEMissing
	default:
		return "", fmt.Errorf("%w: rcode %s", ErrResolverFailure, dns.RcodeToString[in.Rcode])
	}

	for _, rr := range in.Answer {
		if cname, ok := rr.(*dns.CNAME); ok && strings.EqualFold(cname.Hdr.Name, dns.Fqdn(name)) {
			return strings.ToLower(cname.Target), nil
		}
	}
	return "", ErrCNAMEMissing
}
