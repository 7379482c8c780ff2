package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func init() {
	Register("relay", func(o Options) (Prober, error) {
		return NewRelay(o.Target, &http.Client{Timeout: o.Timeout}), nil
	})
}

// Result is the body served by a ping endpoint.
type Result struct {
	Latency *int   `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Relay asks a remote ping endpoint to probe on its behalf and reports the
// latency the endpoint measured.
type Relay struct {
	url    string
	client *http.Client
}

// NewRelay returns a prober reading from the ping endpoint at url.
func NewRelay(url string, client *http.Client) *Relay {
	if client == nil {
		client = http.DefaultClient
	}
	return &Relay{url: url, client: client}
}

// Target returns the endpoint URL.
func (p *Relay) Target() string {
	return p.url
}

// Probe implements Prober.
func (p *Relay) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, &Error{Target: p.url, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &Error{Target: p.url, Err: err}
	}
	defer resp.Body.Close()

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, &Error{Target: p.url, Err: fmt.Errorf("invalid response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &Error{Target: p.url, Err: fmt.Errorf("status %d: %s", resp.StatusCode, res.Error)}
	}
	if res.Latency == nil {
		return 0, &Error{Target: p.url, Err: fmt.Errorf("response without latency")}
	}

	return time.Duration(*res.Latency) * time.Millisecond, nil
}
