package probe

import (
	"context"
	"io"
	"net/http"
	"time"
)

// DefaultTarget returns an empty 204 response and is not cached.
const DefaultTarget = "https://www.google.com/generate_204"

func init() {
	Register("http", func(o Options) (Prober, error) {
		return NewHTTP(o.Target, &http.Client{Timeout: o.Timeout}), nil
	})
}

// HTTP times a GET request against a URL serving an empty response. Any
// HTTP response counts as a completed round trip.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP returns a prober requesting url with client.
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{url: url, client: client}
}

// Target returns the probed URL.
func (p *HTTP) Target() string {
	return p.url
}

// Probe implements Prober.
func (p *HTTP) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, &Error{Target: p.url, Err: err}
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &Error{Target: p.url, Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return time.Since(start), nil
}
