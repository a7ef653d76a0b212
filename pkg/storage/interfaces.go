package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
)

// ErrNotFound is returned when a facility ID has no row.
var ErrNotFound = errors.New("facility not found")

// BoundingBox is a coarse geographic pre-filter; precise radius filtering
// happens in the search service via great-circle distance.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// QueryFilter narrows a facility query. Zero values mean "no filter".
type QueryFilter struct {
	// Residential filters on the residential flag when non-nil.
	Residential *bool
	// Services requires every listed service to be present (containment).
	Services []string
	// Bounds restricts to facilities with coordinates inside the box;
	// facilities with null coordinates never match a bounded query.
	Bounds *BoundingBox
	// State restricts to a two-letter state code.
	State string
	// Limit caps the number of rows returned; 0 means the store default.
	Limit int
}

// FacilityStore is the persistence contract. The store serializes per-row
// upserts (the ID-uniqueness invariant); reads and writes of different rows
// are independent.
type FacilityStore interface {
	// UpsertFacilities writes the batch idempotently and returns the number
	// of rows written.
	UpsertFacilities(ctx context.Context, facilities []*facility.Facility) (int, error)

	// GetFacility returns one facility by ID or ErrNotFound.
	GetFacility(ctx context.Context, id string) (*facility.Facility, error)

	// QueryFacilities returns facilities matching the filter.
	QueryFacilities(ctx context.Context, filter QueryFilter) ([]*facility.Facility, error)

	// RecordSyncStatus appends one pipeline run record.
	RecordSyncStatus(ctx context.Context, status *facility.SyncStatus) error

	// LastSyncTime returns the completion time of the most recent
	// successful run, used as the incremental-sync watermark. The zero
	// time means no successful run exists yet.
	LastSyncTime(ctx context.Context) (time.Time, error)

	// HealthCheck pings the backing database.
	HealthCheck(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}
