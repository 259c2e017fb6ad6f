package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/resilience"
)

const (
	defaultTimeout = 30 * time.Second
	// pageSize is the provider's maximum page size for the results listing.
	pageSize = 50
)

// Options configures the HTTP gateway client.
type Options struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration

	// Limiter is the shared token bucket. Every request from every caller
	// blocks on it; nil gets the provider's documented 2 req/s budget.
	Limiter *rate.Limiter
}

// Client is the HTTP implementation of Gateway. It performs no retries of
// its own: failures are classified (transient or not) and surface to the
// retry policy at the chunk and enrichment-call boundaries.
type Client struct {
	base    string
	user    string
	pass    string
	limiter *rate.Limiter
	httpc   *http.Client
	log     *zap.Logger
}

// NewClient creates a gateway client from options.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(2, 2)
	}
	return &Client{
		base:    opts.BaseURL,
		user:    opts.Username,
		pass:    opts.Password,
		limiter: opts.Limiter,
		httpc:   &http.Client{Timeout: opts.Timeout},
		log:     zap.L().With(zap.String("component", "provider")),
	}
}

// Limiter exposes the shared limiter so the enrichment pool and any other
// caller can be wired to the same token source.
func (c *Client) Limiter() *rate.Limiter {
	return c.limiter
}

type resultsResponse struct {
	Results []EventRecord `json:"results"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Skip    int           `json:"skip"`
}

// ListEvents pages through the results listing for one region and date
// range. Each page costs one token from the shared limiter.
func (c *Client) ListEvents(ctx context.Context, start, end time.Time, region model.Region) ([]EventRecord, error) {
	var events []EventRecord
	skip := 0

	for {
		q := url.Values{}
		q.Set("start_date", start.Format("2006-01-02"))
		q.Set("end_date", end.Format("2006-01-02"))
		q.Set("region", string(region))
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("skip", strconv.Itoa(skip))

		var page resultsResponse
		if err := c.getJSON(ctx, "/results", q, &page); err != nil {
			return nil, eris.Wrapf(err, "provider: list events %s..%s (%s)",
				start.Format("2006-01-02"), end.Format("2006-01-02"), region)
		}

		events = append(events, page.Results...)
		skip += len(page.Results)

		if len(page.Results) == 0 || skip >= page.Total {
			break
		}
	}

	c.log.Debug("listed events",
		zap.String("region", string(region)),
		zap.Int("races", len(events)),
	)
	return events, nil
}

// EntityDetail fetches the per-horse detail record. A 404 maps to
// ErrNotFound; the caller treats that as "enrichment unavailable".
func (c *Client) EntityDetail(ctx context.Context, horseID string) (*HorseDetail, error) {
	var detail HorseDetail
	if err := c.getJSON(ctx, "/horses/"+url.PathEscape(horseID), nil, &detail); err != nil {
		return nil, eris.Wrapf(err, "provider: entity detail %s", horseID)
	}
	return &detail, nil
}

// getJSON performs one rate-limited GET and decodes the response body.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limiter wait")
	}

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			c.log.Warn("rate limited by upstream", zap.String("path", path))
		}
		return resilience.NewTransientError(
			fmt.Errorf("http %d from %s", resp.StatusCode, path), resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return eris.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "decode response from %s", path)
	}
	return nil
}
