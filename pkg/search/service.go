package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/cache"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/config"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/storage"
)

// ErrInvalidQuery marks client-side validation failures so the HTTP layer
// can map them to 400 instead of 503.
var ErrInvalidQuery = errors.New("invalid query")

// Request is a validated search query.
type Request struct {
	Latitude    float64
	Longitude   float64
	RadiusMiles float64
	Services    []string
	Residential *bool
	Limit       int
}

// Result is one ranked facility.
type Result struct {
	facility.Facility
	DistanceMiles float64 `json:"distanceMiles"`
}

// Params echoes the effective query back to the client, after defaults
// and caps were applied.
type Params struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	RadiusMiles float64  `json:"radius"`
	Services    []string `json:"services,omitempty"`
	Limit       int      `json:"limit"`
}

// Response is the search payload. CacheStatus reports where the response
// came from (local, distributed, miss, fallback) and is surfaced as a
// header, not in the body. ResponseTimeMs is stamped per request by the
// HTTP layer, overwriting whatever a cached copy carried.
type Response struct {
	Success        bool     `json:"success"`
	Count          int      `json:"count"`
	Params         Params   `json:"searchParams"`
	Results        []Result `json:"results"`
	Degraded       bool     `json:"degraded,omitempty"`
	ResponseTimeMs int64    `json:"responseTimeMs"`

	CacheStatus string `json:"-"`
}

// Service answers facility searches from cache, store, or the static
// fallback set, in that order of preference.
type Service struct {
	store    storage.FacilityStore
	cache    *cache.MultiTier
	fallback *FallbackSet
	cfg      config.SearchConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
	group    singleflight.Group
}

// NewService wires the search service. fallback must not be nil; use
// LoadFallback("") for the embedded default set.
func NewService(store storage.FacilityStore, multiTier *cache.MultiTier, fallback *FallbackSet,
	cfg config.SearchConfig, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		cache:    multiTier,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Validate checks coordinate ranges and applies defaults and caps.
func (s *Service) Validate(req *Request) error {
	if req.Latitude < -90 || req.Latitude > 90 {
		return fmt.Errorf("%w: latitude out of range: %v", ErrInvalidQuery, req.Latitude)
	}
	if req.Longitude < -180 || req.Longitude > 180 {
		return fmt.Errorf("%w: longitude out of range: %v", ErrInvalidQuery, req.Longitude)
	}
	if req.RadiusMiles <= 0 {
		req.RadiusMiles = s.cfg.DefaultRadiusMiles
	}
	if req.Limit <= 0 {
		req.Limit = s.cfg.DefaultLimit
	}
	if req.Limit > s.cfg.MaxLimit {
		req.Limit = s.cfg.MaxLimit
	}
	return nil
}

// Search runs one query end to end. Store failures degrade to the fallback
// set instead of returning an error; degraded responses are never cached.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	if err := s.Validate(&req); err != nil {
		return nil, err
	}

	key := s.cacheKey(req)
	if cached, tier, err := s.cache.Get(ctx, key); err == nil {
		var resp Response
		if jsonErr := json.Unmarshal(cached, &resp); jsonErr == nil {
			resp.CacheStatus = tier
			s.metrics.SearchRequestsTotal.WithLabelValues("cache-" + tier).Inc()
			return &resp, nil
		}
		// A corrupt entry is treated as a miss and overwritten below.
		s.logger.WithField("key", key).Warn("dropping unreadable cache entry")
	}

	// Collapse concurrent identical misses into one store query.
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.query(ctx, req, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

func (s *Service) query(ctx context.Context, req Request, key string) (*Response, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	minLat, maxLat, minLng, maxLng := boundingBox(req.Latitude, req.Longitude, req.RadiusMiles)
	candidates, err := s.store.QueryFacilities(storeCtx, storage.QueryFilter{
		Residential: req.Residential,
		Services:    req.Services,
		Bounds: &storage.BoundingBox{
			MinLat: minLat, MaxLat: maxLat,
			MinLng: minLng, MaxLng: maxLng,
		},
	})
	if err != nil {
		s.logger.WithError(err).Warn("store query failed, serving fallback set")
		s.metrics.SearchDegradedTotal.Inc()
		s.metrics.SearchRequestsTotal.WithLabelValues("fallback").Inc()
		return s.degraded(req), nil
	}

	resp := &Response{
		Success:     true,
		Params:      echoParams(req),
		Results:     rank(candidates, req),
		CacheStatus: cache.TierMiss,
	}
	resp.Count = len(resp.Results)

	if payload, jsonErr := json.Marshal(resp); jsonErr == nil {
		if cacheErr := s.cache.Set(ctx, key, payload, 0); cacheErr != nil {
			s.logger.WithError(cacheErr).Debug("cache write failed")
		}
	}

	s.metrics.SearchRequestsTotal.WithLabelValues("store").Inc()
	s.metrics.SearchResultsReturned.Observe(float64(resp.Count))
	return resp, nil
}

// degraded ranks the static fallback set with the same radius semantics.
func (s *Service) degraded(req Request) *Response {
	resp := &Response{
		Success:     true,
		Params:      echoParams(req),
		Results:     rank(s.fallback.Facilities, req),
		Degraded:    true,
		CacheStatus: "fallback",
	}
	resp.Count = len(resp.Results)
	return resp
}

func echoParams(req Request) Params {
	return Params{
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		RadiusMiles: req.RadiusMiles,
		Services:    req.Services,
		Limit:       req.Limit,
	}
}

// rank filters candidates to the radius and sorts them nearest first.
func rank(candidates []*facility.Facility, req Request) []Result {
	results := make([]Result, 0, len(candidates))
	for _, f := range candidates {
		if !f.HasCoordinates() {
			continue
		}
		if !matchesFilters(f, req) {
			continue
		}
		d := Haversine(req.Latitude, req.Longitude, *f.Latitude, *f.Longitude)
		if d > req.RadiusMiles {
			continue
		}
		results = append(results, Result{Facility: *f, DistanceMiles: d})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].DistanceMiles != results[j].DistanceMiles {
			return results[i].DistanceMiles < results[j].DistanceMiles
		}
		return results[i].ID < results[j].ID
	})

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results
}

// matchesFilters re-applies the query filters. The store already filters
// these, but fallback facilities never went through the store.
func matchesFilters(f *facility.Facility, req Request) bool {
	if req.Residential != nil && f.Residential != *req.Residential {
		return false
	}
	for _, want := range req.Services {
		found := false
		for _, have := range f.Services {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Service) cacheKey(req Request) string {
	key := cache.Fingerprint(req.Latitude, req.Longitude, req.RadiusMiles, req.Services, req.Limit)
	if req.Residential != nil {
		key = fmt.Sprintf("%s:res:%t", key, *req.Residential)
	}
	return key
}

// GetFacility looks up one facility by ID.
func (s *Service) GetFacility(ctx context.Context, id string) (*facility.Facility, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.GetFacility(ctx, id)
}

// InvalidateLocal clears the local cache tier. Called after a pipeline run
// loads fresh data so stale entries age out immediately.
func (s *Service) InvalidateLocal() {
	s.cache.PurgeLocal()
}
