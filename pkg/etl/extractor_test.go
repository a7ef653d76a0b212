package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/config"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/ratelimit"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// pagedUpstream serves 3 pages of 50/50/20 records.
func pagedUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	pageSizes := []int{50, 50, 20}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		require.GreaterOrEqual(t, page, 1)
		require.LessOrEqual(t, page, len(pageSizes))

		rows := make([]facility.SourceRecord, pageSizes[page-1])
		for i := range rows {
			rows[i] = facility.SourceRecord{
				FacilityName: fmt.Sprintf("Facility %d-%d", page, i),
				City:         "Austin",
				State:        "TX",
			}
		}
		json.NewEncoder(w).Encode(pageEnvelope{
			Page:        page,
			TotalPages:  len(pageSizes),
			RecordCount: 120,
			Rows:        rows,
		})
	}))
}

func newTestExtractor(baseURL string, maxRetries int) *Extractor {
	return newTestExtractorWithLimiter(baseURL, maxRetries,
		ratelimit.NewLimiter(ratelimit.Config{Capacity: 1000, RefillPerSecond: 1000}))
}

func newTestExtractorWithLimiter(baseURL string, maxRetries int, limiter *ratelimit.Limiter) *Extractor {
	return NewExtractor(
		config.UpstreamConfig{
			BaseURL:    baseURL,
			Location:   "US",
			PageSize:   50,
			ResultType: "sober-living",
			Timeout:    5 * time.Second,
		},
		maxRetries,
		limiter,
		testLogger(),
		observability.NewMetrics(nil),
	)
}

func TestExtractor_ExtractAll(t *testing.T) {
	srv := pagedUpstream(t)
	defer srv.Close()

	t.Run("walks all pages", func(t *testing.T) {
		e := newTestExtractor(srv.URL, 0)
		records, skipped, err := e.ExtractAll(context.Background(), -1)
		require.NoError(t, err)
		assert.Len(t, records, 120)
		assert.Zero(t, skipped)
		assert.Equal(t, "Facility 1-0", records[0].FacilityName)
		assert.Equal(t, "Facility 3-19", records[119].FacilityName)
	})

	t.Run("positive limit stops early", func(t *testing.T) {
		e := newTestExtractor(srv.URL, 0)
		records, _, err := e.ExtractAll(context.Background(), 30)
		require.NoError(t, err)
		assert.Len(t, records, 30)
	})
}

func TestExtractor_AuthFailureIsFatal(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := newTestExtractor(srv.URL, 3)
	_, _, err := e.ExtractAll(context.Background(), -1)
	require.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), attempts.Load(), "auth failures must not be retried")
}

func TestExtractor_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(pageEnvelope{
			Page: 1, TotalPages: 1, RecordCount: 1,
			Rows: []facility.SourceRecord{{FacilityName: "Recovered", State: "TX"}},
		})
	}))
	defer srv.Close()

	e := newTestExtractor(srv.URL, 2)
	records, _, err := e.ExtractAll(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestExtractor_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newTestExtractor(srv.URL, 1)
	_, _, err := e.ExtractAll(context.Background(), -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted 1 retries")
}

func TestExtractor_SkipsDeadPage(t *testing.T) {
	pageSizes := []int{50, 50, 20}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rows := make([]facility.SourceRecord, pageSizes[page-1])
		for i := range rows {
			rows[i] = facility.SourceRecord{
				FacilityName: fmt.Sprintf("Facility %d-%d", page, i),
				State:        "TX",
			}
		}
		json.NewEncoder(w).Encode(pageEnvelope{
			Page: page, TotalPages: len(pageSizes), RecordCount: 120, Rows: rows,
		})
	}))
	defer srv.Close()

	e := newTestExtractor(srv.URL, 0)
	records, skipped, err := e.ExtractAll(context.Background(), -1)
	require.NoError(t, err, "one dead page must not abort extraction")
	assert.Len(t, records, 70, "pages 1 and 3 still arrive")
	assert.Equal(t, 50, skipped, "the dead page is accounted by page size")
	assert.Equal(t, "Facility 3-0", records[50].FacilityName)
}

func TestExtractor_RateLimitRejectionUsesRetryBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(pageEnvelope{Page: 1, TotalPages: 1})
	}))
	defer srv.Close()

	// Drain the bucket so every acquisition is rejected.
	limiter := ratelimit.NewLimiter(ratelimit.Config{Capacity: 1, RefillPerSecond: 0})
	require.True(t, limiter.TryAcquire())

	e := newTestExtractorWithLimiter(srv.URL, 0, limiter)
	_, _, err := e.ExtractAll(context.Background(), -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit token unavailable")
	assert.Zero(t, hits.Load(), "no upstream call without a token")
}
