// Package gnfinder is a client for the Global Names finder service, which
// detects scientific names in text and verifies them against taxonomic
// sources.
package gnfinder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/ecoparse/internal/resilience"
)

const defaultURL = "http://localhost:4040/api/v1/find"

// MatchUnverified is reported for names without a verification result.
const MatchUnverified = "Unverified"

// Client finds names in text.
type Client interface {
	Find(ctx context.Context, text string) (*Response, error)
}

// Response is the finder output.
type Response struct {
	Names []Name `json:"names"`
}

// Name is one detected name.
type Name struct {
	Verbatim     string        `json:"verbatim"`
	Name         string        `json:"name"`
	Start        int           `json:"start"`
	End          int           `json:"end"`
	Verification *Verification `json:"verification,omitempty"`
}

// Verification holds the best match in the taxonomic sources.
type Verification struct {
	BestResult *BestResult `json:"bestResult,omitempty"`
}

// BestResult is the preferred verification match.
type BestResult struct {
	MatchType            string `json:"matchType"`
	MatchedName          string `json:"matchedName"`
	MatchedCanonicalFull string `json:"matchedCanonicalFull"`
	ClassificationRanks  string `json:"classificationRanks"`
	ClassificationPath   string `json:"classificationPath"`
}

// Best returns the verification result of n, or nil.
func (n Name) Best() *BestResult {
	if n.Verification == nil {
		return nil
	}
	return n.Verification.BestResult
}

// Option configures the client.
type Option func(*httpClient)

// WithURL sets the find endpoint.
func WithURL(u string) Option {
	return func(c *httpClient) {
		c.url = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a finder client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		url:  defaultURL,
		http: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Find uploads text as a plain-text file with verification and unique
// names enabled.
func (c *httpClient) Find(ctx context.Context, text string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "gnfinder: rate limit wait")
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "document.txt")
	if err != nil {
		return nil, eris.Wrap(err, "gnfinder: create form file")
	}
	if _, err := io.WriteString(part, text); err != nil {
		return nil, eris.Wrap(err, "gnfinder: write form file")
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "gnfinder: close multipart")
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return nil, eris.Wrapf(err, "gnfinder: parse url %s", c.url)
	}
	q := u.Query()
	q.Set("verification", "true")
	q.Set("uniqueNames", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, eris.Wrap(err, "gnfinder: create request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "gnfinder: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gnfinder: read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("gnfinder", resp.StatusCode, data)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "gnfinder: decode response")
	}
	return &out, nil
}
