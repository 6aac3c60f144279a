// Package gbif is a client for the GBIF backbone taxonomy name matcher.
package gbif

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/ecoparse/internal/resilience"
)

const defaultBaseURL = "https://api.gbif.org/v1"

// MatchNone is the match type GBIF reports for unknown names.
const MatchNone = "NONE"

// Client matches names against the backbone.
type Client interface {
	// Match returns the backbone match for name at species rank, or nil
	// when GBIF has no match.
	Match(ctx context.Context, name string) (*Match, error)
}

// Match is the subset of a species/match response used for filtering.
type Match struct {
	UsageKey   int    `json:"usageKey,omitempty"`
	MatchType  string `json:"matchType"`
	Confidence int    `json:"confidence"`
	Rank       string `json:"rank,omitempty"`
	Status     string `json:"status,omitempty"`
	Kingdom    string `json:"kingdom,omitempty"`
	Phylum     string `json:"phylum,omitempty"`
	Class      string `json:"class,omitempty"`
	Order      string `json:"order,omitempty"`
	Family     string `json:"family,omitempty"`
	Genus      string `json:"genus,omitempty"`
}

// Ranks returns the higher classification keyed by lower-case rank name.
func (m *Match) Ranks() map[string]string {
	return map[string]string{
		"kingdom": m.Kingdom,
		"phylum":  m.Phylum,
		"class":   m.Class,
		"order":   m.Order,
		"family":  m.Family,
		"genus":   m.Genus,
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a GBIF client limited to 5 requests per second.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(5, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Match(ctx context.Context, name string) (*Match, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "gbif: rate limit wait")
		}
	}

	q := url.Values{}
	q.Set("name", name)
	q.Set("rank", "SPECIES")
	q.Set("strict", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/species/match?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "gbif: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "gbif: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gbif: read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("gbif", resp.StatusCode, body)
	}

	var m Match
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, eris.Wrap(err, "gbif: decode response")
	}
	if m.MatchType == "" || m.MatchType == MatchNone {
		return nil, nil
	}
	return &m, nil
}
