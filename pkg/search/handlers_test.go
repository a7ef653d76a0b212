package search

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/ratelimit"
)

func newTestHandler(t *testing.T, store *stubStore, limiterCfg ratelimit.Config) *mux.Router {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	h := NewHandler(
		newTestService(t, store),
		ratelimit.NewKeyedLimiter(limiterCfg),
		nil,
		logger,
		observability.NewMetrics(nil),
	)
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func generousLimits() ratelimit.Config {
	return ratelimit.Config{Capacity: 1000, RefillPerSecond: 1000}
}

func TestHandler_Search(t *testing.T) {
	store := &stubStore{facilities: []*facility.Facility{
		coordFacility("near", 37.7749, -122.4194, "residential"),
	}}

	t.Run("happy path with headers", func(t *testing.T) {
		router := newTestHandler(t, store, generousLimits())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET",
			"/api/v1/facilities/search?latitude=37.7749&longitude=-122.4194&radius=10", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "miss", w.Header().Get("X-Cache-Status"))
		assert.NotEmpty(t, w.Header().Get("X-Response-Time"))

		var resp Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, 37.7749, resp.Params.Latitude)
		assert.GreaterOrEqual(t, resp.ResponseTimeMs, int64(0))
	})

	t.Run("missing latitude", func(t *testing.T) {
		router := newTestHandler(t, store, generousLimits())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET",
			"/api/v1/facilities/search?longitude=-122.4194", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("latitude out of range", func(t *testing.T) {
		router := newTestHandler(t, store, generousLimits())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET",
			"/api/v1/facilities/search?latitude=95&longitude=-122.4194", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed radius", func(t *testing.T) {
		router := newTestHandler(t, store, generousLimits())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET",
			"/api/v1/facilities/search?latitude=37.7749&longitude=-122.4194&radius=lots", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		router := newTestHandler(t, store, ratelimit.Config{Capacity: 1, RefillPerSecond: 0.001})

		first := httptest.NewRecorder()
		router.ServeHTTP(first, httptest.NewRequest("GET",
			"/api/v1/facilities/search?latitude=37.7749&longitude=-122.4194", nil))
		require.Equal(t, http.StatusOK, first.Code)

		second := httptest.NewRecorder()
		router.ServeHTTP(second, httptest.NewRequest("GET",
			"/api/v1/facilities/search?latitude=37.7749&longitude=-122.4194", nil))
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.Equal(t, "60", second.Header().Get("Retry-After"))
	})

	t.Run("degraded store serves fallback", func(t *testing.T) {
		router := newTestHandler(t, &stubStore{queryErr: assert.AnError}, generousLimits())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET",
			"/api/v1/facilities/search?latitude=37.7749&longitude=-122.4194&radius=10", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "fallback", w.Header().Get("X-Cache-Status"))

		var resp Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Degraded)
	})
}

func TestHandler_GetFacility(t *testing.T) {
	store := &stubStore{facilities: []*facility.Facility{
		coordFacility("abc", 37.7749, -122.4194),
	}}

	t.Run("found", func(t *testing.T) {
		router := newTestHandler(t, store, generousLimits())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/facilities/abc", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var f facility.Facility
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
		assert.Equal(t, "abc", f.ID)
	})

	t.Run("not found", func(t *testing.T) {
		router := newTestHandler(t, store, generousLimits())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/facilities/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("store error", func(t *testing.T) {
		router := newTestHandler(t, &stubStore{getErr: assert.AnError}, generousLimits())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/facilities/abc", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
