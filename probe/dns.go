package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DefaultResolver is queried by the dns prober when none is configured.
const DefaultResolver = "1.1.1.1:53"

func init() {
	Register("dns", func(o Options) (Prober, error) {
		return NewDNS(o.Target, o.Resolver, o.Timeout), nil
	})
}

// DNS times an A query for a name against one resolver. The round trip
// to the resolver is the measured latency.
type DNS struct {
	name     string
	resolver string
	client   *dns.Client
}

// NewDNS returns a prober querying name at resolver over UDP.
func NewDNS(name, resolver string, timeout time.Duration) *DNS {
	if resolver == "" {
		resolver = DefaultResolver
	}
	if _, _, err := net.SplitHostPort(resolver); err != nil {
		resolver = net.JoinHostPort(resolver, "53")
	}

	c := &dns.Client{Net: "udp"}
	if timeout > 0 {
		c.Timeout = timeout
	}

	return &DNS{
		name:     dns.Fqdn(name),
		resolver: resolver,
		client:   c,
	}
}

// Target returns the queried name and resolver.
func (p *DNS) Target() string {
	return p.name + "@" + p.resolver
}

// Probe implements Prober.
func (p *DNS) Probe(ctx context.Context) (time.Duration, error) {
	m := new(dns.Msg)
	m.SetQuestion(p.name, dns.TypeA)

	in, rtt, err := p.client.ExchangeContext(ctx, m, p.resolver)
	if err != nil {
		return 0, &Error{Target: p.Target(), Err: err}
	}
	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return 0, &Error{Target: p.Target(), Err: fmt.Errorf("resolver answered %s", dns.RcodeToString[in.Rcode])}
	}

	return rtt, nil
}
