package search

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/httputil"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/ratelimit"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/storage"
)

// Handler exposes the search service over HTTP.
type Handler struct {
	service     *Service
	limiter     *ratelimit.KeyedLimiter
	distributed *ratelimit.DistributedLimiter
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewHandler wires the HTTP layer. distributed may be nil; admission then
// falls back to the per-process keyed limiter alone.
func NewHandler(service *Service, limiter *ratelimit.KeyedLimiter,
	distributed *ratelimit.DistributedLimiter,
	logger *observability.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		service:     service,
		limiter:     limiter,
		distributed: distributed,
		logger:      logger,
		metrics:     metrics,
	}
}

// Register mounts the search routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/facilities/search", h.Search).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/facilities/{id}", h.GetFacility).Methods(http.MethodGet)
}

// Search handles GET /api/v1/facilities/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !h.admit(r) {
		h.metrics.SearchRejectedTotal.Inc()
		httputil.WriteTooManyRequests(w, "rate limit exceeded, retry later", time.Minute)
		return
	}

	req, err := parseSearchRequest(r)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	resp, err := h.service.Search(r.Context(), *req)
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		// The service degrades to the fallback set on store failure, so an
		// error here means even that path failed.
		h.logger.FromContext(r.Context()).WithError(err).Error("search failed")
		httputil.WriteServiceUnavailable(w, "search temporarily unavailable")
		return
	}

	resp.ResponseTimeMs = time.Since(start).Milliseconds()
	w.Header().Set("X-Cache-Status", resp.CacheStatus)
	w.Header().Set("X-Response-Time", fmt.Sprintf("%dms", resp.ResponseTimeMs))
	httputil.WriteSuccess(w, resp)
}

// GetFacility handles GET /api/v1/facilities/{id}.
func (h *Handler) GetFacility(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	f, err := h.service.GetFacility(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteNotFoundError(w, fmt.Sprintf("facility %s not found", id))
			return
		}
		h.logger.FromContext(r.Context()).WithError(err).
			WithField("facility_id", id).Error("facility lookup failed")
		httputil.WriteServiceUnavailable(w, "store temporarily unavailable")
		return
	}
	httputil.WriteSuccess(w, f)
}

// admit applies per-client rate limits. The distributed limiter fails open,
// so a Redis outage falls through to the local bucket.
func (h *Handler) admit(r *http.Request) bool {
	client := httputil.ClientIP(r)

	if h.distributed != nil {
		allowed, err := h.distributed.Allow(r.Context(), client)
		if err == nil {
			return allowed
		}
		h.logger.WithError(err).Debug("distributed limiter unavailable, using local bucket")
	}
	return h.limiter.TryAcquire(client)
}

func parseSearchRequest(r *http.Request) (*Request, error) {
	lat, err := httputil.RequireQueryFloat(r, "latitude")
	if err != nil {
		return nil, err
	}
	lng, err := httputil.RequireQueryFloat(r, "longitude")
	if err != nil {
		return nil, err
	}
	radius, err := httputil.ParseQueryFloat(r, "radius", 0)
	if err != nil {
		return nil, err
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		return nil, err
	}
	residential, err := httputil.ParseQueryBool(r, "residential")
	if err != nil {
		return nil, err
	}

	return &Request{
		Latitude:    lat,
		Longitude:   lng,
		RadiusMiles: radius,
		Services:    httputil.ParseQueryCSV(r, "services"),
		Residential: residential,
		Limit:       limit,
	}, nil
}
