package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/config"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/ratelimit"
)

// ErrAuth marks an upstream credential rejection. Auth failures are fatal
// for the run; retrying with the same key cannot succeed.
var ErrAuth = errors.New("upstream authentication failed")

// errNoToken is the transient failure recorded when the token bucket
// rejects an attempt; it retries through the same backoff loop as an
// upstream 5xx.
var errNoToken = errors.New("rate limit token unavailable")

// pageEnvelope is the upstream pagination wrapper.
type pageEnvelope struct {
	Page        int                     `json:"page"`
	TotalPages  int                     `json:"totalPages"`
	RecordCount int                     `json:"recordCount"`
	Rows        []facility.SourceRecord `json:"rows"`
}

// Source yields raw upstream records. limit < 0 means all records. skipped
// reports records lost to unreadable pages so the pipeline can count them
// rejected.
type Source interface {
	ExtractAll(ctx context.Context, limit int) (records []facility.SourceRecord, skipped int, err error)
}

// Extractor pulls facility records from the upstream locator API page by
// page, gated by a token bucket so the upstream never sees bursts.
type Extractor struct {
	client     *resty.Client
	limiter    *ratelimit.Limiter
	logger     *observability.Logger
	metrics    *observability.Metrics
	location   string
	resultType string
	pageSize   int
	maxRetries int
}

// NewExtractor builds an extractor from upstream settings.
func NewExtractor(cfg config.UpstreamConfig, maxRetries int, limiter *ratelimit.Limiter,
	logger *observability.Logger, metrics *observability.Metrics) *Extractor {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "facilities-etl/1.0")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Extractor{
		client:     client,
		limiter:    limiter,
		logger:     logger,
		metrics:    metrics,
		location:   cfg.Location,
		resultType: cfg.ResultType,
		pageSize:   cfg.PageSize,
		maxRetries: maxRetries,
	}
}

// ExtractAll walks every page and returns the concatenated rows. A positive
// limit stops extraction once that many records have been collected.
//
// Each page is its own unit of failure accounting: a page that still cannot
// be fetched after retries is skipped (its page size reported in skipped)
// and extraction moves on. Only auth failures, cancellation, and a dead
// first page (nothing to paginate from) abort the walk.
func (e *Extractor) ExtractAll(ctx context.Context, limit int) ([]facility.SourceRecord, int, error) {
	first, err := e.fetchPage(ctx, 1)
	if err != nil {
		return nil, 0, fmt.Errorf("page 1: %w", err)
	}
	e.logPage(1, first)

	records := append([]facility.SourceRecord(nil), first.Rows...)
	if limit > 0 && len(records) >= limit {
		return records[:limit], 0, nil
	}

	skipped := 0
	for page := 2; page <= first.TotalPages; page++ {
		env, err := e.fetchPage(ctx, page)
		if err != nil {
			if errors.Is(err, ErrAuth) || ctx.Err() != nil {
				return nil, skipped, fmt.Errorf("page %d: %w", page, err)
			}
			skipped += e.pageSize
			e.logger.WithError(err).WithField("page", page).
				Error("skipping unreadable page")
			continue
		}
		e.logPage(page, env)

		records = append(records, env.Rows...)
		if limit > 0 && len(records) >= limit {
			return records[:limit], skipped, nil
		}
		if len(env.Rows) == 0 {
			break
		}
	}
	return records, skipped, nil
}

func (e *Extractor) logPage(page int, env *pageEnvelope) {
	e.logger.WithField("page", page).
		WithField("total_pages", env.TotalPages).
		WithField("rows", len(env.Rows)).
		Debug("extracted page")
}

// fetchPage gets one page, retrying transient failures with exponential
// backoff. A rate-limit rejection is one such transient failure: the
// attempt is spent sleeping through the backoff rather than polling the
// bucket.
func (e *Extractor) fetchPage(ctx context.Context, page int) (*pageEnvelope, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.metrics.ETLRetriesTotal.Inc()
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			e.logger.WithField("page", page).
				WithField("attempt", attempt).
				WithField("backoff", backoff.String()).
				Warn("retrying upstream fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if !e.limiter.TryAcquire() {
			lastErr = errNoToken
			continue
		}

		env, err := e.doFetch(ctx, page)
		if err == nil {
			return env, nil
		}
		if errors.Is(err, ErrAuth) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", e.maxRetries, lastErr)
}

func (e *Extractor) doFetch(ctx context.Context, page int) (*pageEnvelope, error) {
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"sType":    e.resultType,
			"sAddr":    e.location,
			"pageSize": strconv.Itoa(e.pageSize),
			"page":     strconv.Itoa(page),
		}).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode())
	case resp.StatusCode() >= 500:
		return nil, fmt.Errorf("upstream server error: status %d", resp.StatusCode())
	case resp.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("unexpected upstream status %d", resp.StatusCode())
	}

	var env pageEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("decoding upstream page: %w", err)
	}
	return &env, nil
}
