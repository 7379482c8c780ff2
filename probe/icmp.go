package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	ping "github.com/digineo/go-ping"
	log "github.com/sirupsen/logrus"
)

func init() {
	Register("icmp", func(o Options) (Prober, error) {
		return NewICMP(o.Target, o.PayloadSize, net.DefaultResolver)
	})
}

// Resolver resolves a host to its IP addresses.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ICMP sends one echo request per probe.
type ICMP struct {
	host     string
	pinger   *ping.Pinger
	resolver Resolver
}

// NewICMP opens raw ICMP sockets for every address family the host
// supports. This usually needs CAP_NET_RAW.
func NewICMP(host string, payloadSize uint16, resolver Resolver) (*ICMP, error) {
	var bind4, bind6 string
	if ln, err := net.Listen("tcp4", "127.0.0.1:0"); err == nil {
		// ipv4 enabled
		ln.Close()
		bind4 = "0.0.0.0"
	}
	if ln, err := net.Listen("tcp6", "[::1]:0"); err == nil {
		// ipv6 enabled
		ln.Close()
		bind6 = "::"
	}

	pinger, err := ping.New(bind4, bind6)
	if err != nil {
		return nil, fmt.Errorf("cannot open icmp socket: %w", err)
	}
	if payloadSize > 0 && pinger.PayloadSize() != payloadSize {
		pinger.SetPayloadSize(payloadSize)
	}

	return &ICMP{host: host, pinger: pinger, resolver: resolver}, nil
}

// Target returns the probed host.
func (p *ICMP) Target() string {
	return p.host
}

// Probe implements Prober. The host is resolved on every probe so address
// changes are picked up.
func (p *ICMP) Probe(ctx context.Context) (time.Duration, error) {
	addr, err := resolveTarget(ctx, p.resolver, p.host)
	if err != nil {
		return 0, &Error{Target: p.host, Err: err}
	}

	rtt, err := p.pinger.PingContext(ctx, &addr)
	if err != nil {
		return 0, &Error{Target: p.host, Err: err}
	}

	return rtt, nil
}

// Close releases the ICMP sockets.
func (p *ICMP) Close() error {
	p.pinger.Close()
	return nil
}

// resolveTarget returns the first address of host, preferring IPv4.
func resolveTarget(ctx context.Context, resolver Resolver, host string) (net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return net.IPAddr{IP: ip}, nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return net.IPAddr{}, fmt.Errorf("error resolving target: %w", err)
	}
	if len(addrs) == 0 {
		return net.IPAddr{}, errors.New("no addresses found for target")
	}

	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			log.Debugf("resolved %s to %v", host, addr)
			return addr, nil
		}
	}

	log.Debugf("resolved %s to %v", host, addrs[0])
	return addrs[0], nil
}
