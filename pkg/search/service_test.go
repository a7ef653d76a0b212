package search

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/cache"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/config"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/storage"
)

type stubStore struct {
	facilities []*facility.Facility
	queryErr   error
	getErr     error
	queries    int
}

func (s *stubStore) UpsertFacilities(context.Context, []*facility.Facility) (int, error) {
	return 0, nil
}

func (s *stubStore) GetFacility(_ context.Context, id string) (*facility.Facility, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	for _, f := range s.facilities {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *stubStore) QueryFacilities(context.Context, storage.QueryFilter) ([]*facility.Facility, error) {
	s.queries++
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.facilities, nil
}

func (s *stubStore) RecordSyncStatus(context.Context, *facility.SyncStatus) error { return nil }
func (s *stubStore) LastSyncTime(context.Context) (time.Time, error)              { return time.Time{}, nil }
func (s *stubStore) HealthCheck(context.Context) error                            { return nil }
func (s *stubStore) Close() error                                                 { return nil }

func coordFacility(id string, lat, lng float64, services ...string) *facility.Facility {
	return &facility.Facility{
		ID:          id,
		Name:        "Facility " + id,
		State:       "CA",
		Latitude:    &lat,
		Longitude:   &lng,
		Services:    services,
		Residential: true,
	}
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		DefaultRadiusMiles: 25,
		DefaultLimit:       50,
		MaxLimit:           200,
		StoreTimeout:       2 * time.Second,
	}
}

func newTestService(t *testing.T, store storage.FacilityStore) *Service {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	multiTier := cache.NewMultiTier(cache.DefaultConfig(), nil, nil, logger)
	fallback, err := LoadFallback("")
	require.NoError(t, err)
	return NewService(store, multiTier, fallback, testSearchConfig(), logger, observability.NewMetrics(nil))
}

func TestHaversine(t *testing.T) {
	// San Francisco to Los Angeles is roughly 347 miles.
	d := Haversine(37.7749, -122.4194, 34.0522, -118.2437)
	assert.InDelta(t, 347, d, 3)

	assert.Zero(t, Haversine(37.7749, -122.4194, 37.7749, -122.4194))
}

func TestService_Search_RadiusFiltering(t *testing.T) {
	// One facility ~0.5 miles north of the query point, one ~20 miles north.
	store := &stubStore{facilities: []*facility.Facility{
		coordFacility("near", 37.7749+0.5/69.0, -122.4194),
		coordFacility("far", 37.7749+20.0/69.0, -122.4194),
	}}
	svc := newTestService(t, store)

	resp, err := svc.Search(context.Background(), Request{
		Latitude: 37.7749, Longitude: -122.4194, RadiusMiles: 10,
	})
	require.NoError(t, err)

	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "near", resp.Results[0].ID)
	assert.InDelta(t, 0.5, resp.Results[0].DistanceMiles, 0.05)
	assert.False(t, resp.Degraded)
	assert.True(t, resp.Success)
	assert.Equal(t, 10.0, resp.Params.RadiusMiles, "effective params are echoed")
	assert.Equal(t, 50, resp.Params.Limit, "default limit is echoed")
}

func TestService_Search_SortsNearestFirst(t *testing.T) {
	store := &stubStore{facilities: []*facility.Facility{
		coordFacility("b", 37.7749+5.0/69.0, -122.4194),
		coordFacility("a", 37.7749+1.0/69.0, -122.4194),
		coordFacility("c", 37.7749+3.0/69.0, -122.4194),
	}}
	svc := newTestService(t, store)

	resp, err := svc.Search(context.Background(), Request{Latitude: 37.7749, Longitude: -122.4194})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "a", resp.Results[0].ID)
	assert.Equal(t, "c", resp.Results[1].ID)
	assert.Equal(t, "b", resp.Results[2].ID)
}

func TestService_Search_CachesResults(t *testing.T) {
	store := &stubStore{facilities: []*facility.Facility{
		coordFacility("near", 37.7749, -122.4194),
	}}
	svc := newTestService(t, store)
	req := Request{Latitude: 37.7749, Longitude: -122.4194, RadiusMiles: 10}

	first, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cache.TierMiss, first.CacheStatus)

	second, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cache.TierLocal, second.CacheStatus)
	assert.Equal(t, first.Count, second.Count)
	assert.Equal(t, 1, store.queries, "second request must be served from cache")
}

func TestService_Search_DegradedFallback(t *testing.T) {
	store := &stubStore{queryErr: assert.AnError}
	svc := newTestService(t, store)

	// Query centered on the fallback set's San Francisco entry.
	resp, err := svc.Search(context.Background(), Request{
		Latitude: 37.7749, Longitude: -122.4194, RadiusMiles: 10,
	})
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Equal(t, "fallback", resp.CacheStatus)
	require.GreaterOrEqual(t, resp.Count, 1)
	assert.Equal(t, "fallback-sf", resp.Results[0].ID)

	// Degraded responses must not be cached.
	again, err := svc.Search(context.Background(), Request{
		Latitude: 37.7749, Longitude: -122.4194, RadiusMiles: 10,
	})
	require.NoError(t, err)
	assert.True(t, again.Degraded)
	assert.Equal(t, 2, store.queries)
}

func TestService_Search_ServiceFilter(t *testing.T) {
	store := &stubStore{facilities: []*facility.Facility{
		coordFacility("detox", 37.7749, -122.4194, "Detox", "residential"),
		coordFacility("plain", 37.7749, -122.4194, "residential"),
	}}
	svc := newTestService(t, store)

	resp, err := svc.Search(context.Background(), Request{
		Latitude: 37.7749, Longitude: -122.4194, Services: []string{"detox"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "detox", resp.Results[0].ID, "service match is case-insensitive")
}

func TestService_Validate(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	t.Run("latitude out of range", func(t *testing.T) {
		_, err := svc.Search(context.Background(), Request{Latitude: 91})
		assert.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("defaults applied", func(t *testing.T) {
		req := Request{Latitude: 37, Longitude: -122}
		require.NoError(t, svc.Validate(&req))
		assert.Equal(t, 25.0, req.RadiusMiles)
		assert.Equal(t, 50, req.Limit)
	})

	t.Run("limit capped", func(t *testing.T) {
		req := Request{Latitude: 37, Longitude: -122, Limit: 10000}
		require.NoError(t, svc.Validate(&req))
		assert.Equal(t, 200, req.Limit)
	})
}

func TestService_Search_LimitTruncates(t *testing.T) {
	facilities := make([]*facility.Facility, 10)
	for i := range facilities {
		facilities[i] = coordFacility(string(rune('a'+i)), 37.7749+float64(i)/690.0, -122.4194)
	}
	svc := newTestService(t, &stubStore{facilities: facilities})

	resp, err := svc.Search(context.Background(), Request{
		Latitude: 37.7749, Longitude: -122.4194, Limit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, "a", resp.Results[0].ID)
}

func TestBoundingBox(t *testing.T) {
	minLat, maxLat, minLng, maxLng := boundingBox(37.7749, -122.4194, 10)

	assert.InDelta(t, 37.7749-10.0/69.0, minLat, 1e-9)
	assert.InDelta(t, 37.7749+10.0/69.0, maxLat, 1e-9)
	assert.Less(t, minLng, -122.4194)
	assert.Greater(t, maxLng, -122.4194)
}
