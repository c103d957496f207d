package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/platform"
	"github.com/victornm/levelup/internal/telemetry"
)

const (
	DefaultBaseURL     = "https://kotobaweb.com"
	DefaultSettleDelay = 2 * time.Second

	maxBodySize = 8 << 20
)

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// SettleDelay is waited before each request so the report is complete. Zero disables it.
	SettleDelay time.Duration
}

// Client fetches reports one at a time.
type Client struct {
	baseURL string
	http    *http.Client
	settle  time.Duration
	lock    *semaphore.Weighted
}

var _ platform.ReportFetcher = (*Client)(nil)

func NewClient(c Config) *Client {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		baseURL: base,
		http:    hc,
		settle:  c.SettleDelay,
		lock:    semaphore.NewWeighted(1),
	}
}

func (c *Client) FetchQuizReport(ctx context.Context, id string) (domain.QuizReport, error) {
	raw, err := c.FetchRaw(ctx, id)
	if err != nil {
		return domain.QuizReport{}, err
	}
	return Decode(id, raw)
}

// FetchRaw returns the report body without decoding it.
func (c *Client) FetchRaw(ctx context.Context, id string) (_ []byte, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = errors.Convert(err).Code.String()
		}
		telemetry.ReportFetches.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	if err := c.lock.Acquire(ctx, 1); err != nil {
		return nil, unavailable(id, err)
	}
	defer c.lock.Release(1)

	if c.settle > 0 {
		t := time.NewTimer(c.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, unavailable(id, ctx.Err())
		case <-t.C:
		}
	}

	u := fmt.Sprintf("%s/api/game_reports/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Internal(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unavailable(id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFound("report %s not found", id)
	case resp.StatusCode != http.StatusOK:
		return nil, unavailable(id, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, unavailable(id, err)
	}

	slog.DebugContext(ctx, "report: fetched", "report", id, "bytes", len(body))
	return body, nil
}

func unavailable(id string, err error) error {
	return errors.New(errors.CodeUnavailable, errors.WithCause(err), errors.WithMessagef("fetch report %s", id))
}
