package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	PostgresURL string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns: 20,
		MinConns: 2,
		Timeout:  10 * time.Second,
	}
}

// PostgresStore implements FacilityStore on PostgreSQL via lib/pq.
type PostgresStore struct {
	db      *sql.DB
	config  Config
	metrics *observability.Metrics
}

// NewPostgresStore connects, configures the pool, verifies the connection,
// and ensures the schema exists. metrics may be nil.
func NewPostgresStore(config Config, metrics *observability.Metrics) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, config: config, metrics: metrics}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection; used by tests.
func NewPostgresStoreWithDB(db *sql.DB, metrics *observability.Metrics) *PostgresStore {
	return &PostgresStore{db: db, config: DefaultConfig(), metrics: metrics}
}

// observe records one store operation. Not-found lookups are not errors for
// metrics purposes.
func (s *PostgresStore) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(operation).Inc()
	s.metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.metrics.StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS facilities (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			street        TEXT NOT NULL DEFAULT '',
			city          TEXT NOT NULL DEFAULT '',
			state         CHAR(2) NOT NULL,
			zip           TEXT NOT NULL DEFAULT '',
			phone         TEXT NOT NULL DEFAULT '',
			website       TEXT NOT NULL DEFAULT '',
			latitude      DOUBLE PRECISION,
			longitude     DOUBLE PRECISION,
			services      TEXT[] NOT NULL DEFAULT '{}',
			insurance     TEXT[] NOT NULL DEFAULT '{}',
			amenities     TEXT[] NOT NULL DEFAULT '{}',
			specialties   TEXT[] NOT NULL DEFAULT '{}',
			facility_type TEXT NOT NULL DEFAULT '',
			residential   BOOLEAN NOT NULL DEFAULT FALSE,
			verified      BOOLEAN NOT NULL DEFAULT FALSE,
			description   TEXT NOT NULL DEFAULT '',
			capacity      INTEGER,
			quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			raw_source    JSONB,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_facilities_state       ON facilities(state);
		CREATE INDEX IF NOT EXISTS idx_facilities_coords      ON facilities(latitude, longitude) WHERE latitude IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_facilities_residential ON facilities(residential);
		CREATE INDEX IF NOT EXISTS idx_facilities_services    ON facilities USING GIN(services);

		CREATE TABLE IF NOT EXISTS sync_runs (
			run_id       TEXT PRIMARY KEY,
			pipeline     TEXT NOT NULL,
			mode         TEXT NOT NULL,
			started_at   TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			duration_ms  BIGINT NOT NULL,
			extracted    INTEGER NOT NULL,
			transformed  INTEGER NOT NULL,
			validated    INTEGER NOT NULL,
			loaded       INTEGER NOT NULL,
			rejected     INTEGER NOT NULL,
			error        TEXT NOT NULL DEFAULT ''
		);
	`)
	return err
}

const upsertFacilityQuery = `
	INSERT INTO facilities (
		id, name, street, city, state, zip, phone, website,
		latitude, longitude, services, insurance, amenities, specialties,
		facility_type, residential, verified, description, capacity,
		quality_score, raw_source, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		street = EXCLUDED.street,
		city = EXCLUDED.city,
		state = EXCLUDED.state,
		zip = EXCLUDED.zip,
		phone = EXCLUDED.phone,
		website = EXCLUDED.website,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		services = EXCLUDED.services,
		insurance = EXCLUDED.insurance,
		amenities = EXCLUDED.amenities,
		specialties = EXCLUDED.specialties,
		facility_type = EXCLUDED.facility_type,
		residential = EXCLUDED.residential,
		verified = EXCLUDED.verified,
		description = EXCLUDED.description,
		capacity = EXCLUDED.capacity,
		quality_score = EXCLUDED.quality_score,
		raw_source = EXCLUDED.raw_source,
		updated_at = EXCLUDED.updated_at`

// UpsertFacilities writes the batch one row at a time inside a transaction.
// Per-row upserts keep the ID-uniqueness invariant under concurrent
// enrichment updates without cross-record locking.
func (s *PostgresStore) UpsertFacilities(ctx context.Context, facilities []*facility.Facility) (n int, err error) {
	if len(facilities) == 0 {
		return 0, nil
	}
	defer func(start time.Time) { s.observe("upsert", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertFacilityQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, f := range facilities {
		var raw interface{}
		if len(f.RawSource) > 0 {
			raw = []byte(f.RawSource)
		}
		_, err := stmt.ExecContext(ctx,
			f.ID, f.Name, f.Street, f.City, f.State, f.Zip, f.Phone, f.Website,
			f.Latitude, f.Longitude,
			pq.Array(f.Services), pq.Array(f.Insurance),
			pq.Array(f.Amenities), pq.Array(f.Specialties),
			f.FacilityType, f.Residential, f.Verified, f.Description, f.Capacity,
			f.QualityScore, raw, f.CreatedAt, f.UpdatedAt,
		)
		if err != nil {
			return written, fmt.Errorf("failed to upsert facility %s: %w", f.ID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert batch: %w", err)
	}
	return written, nil
}

const selectFacilityColumns = `
	id, name, street, city, state, zip, phone, website,
	latitude, longitude, services, insurance, amenities, specialties,
	facility_type, residential, verified, description, capacity,
	quality_score, created_at, updated_at`

// GetFacility returns one facility by ID.
func (s *PostgresStore) GetFacility(ctx context.Context, id string) (f *facility.Facility, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectFacilityColumns+` FROM facilities WHERE id = $1`, id)

	f, err = scanFacility(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}
	return f, nil
}

// QueryFacilities returns facilities matching the filter, highest quality
// first.
func (s *PostgresStore) QueryFacilities(ctx context.Context, filter QueryFilter) (out []*facility.Facility, err error) {
	defer func(start time.Time) { s.observe("query", start, err) }(time.Now())

	var (
		clauses []string
		args    []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Residential != nil {
		clauses = append(clauses, "residential = "+arg(*filter.Residential))
	}
	if len(filter.Services) > 0 {
		clauses = append(clauses, "services @> "+arg(pq.Array(filter.Services)))
	}
	if filter.State != "" {
		clauses = append(clauses, "state = "+arg(strings.ToUpper(filter.State)))
	}
	if b := filter.Bounds; b != nil {
		clauses = append(clauses, "latitude IS NOT NULL AND longitude IS NOT NULL")
		clauses = append(clauses, "latitude BETWEEN "+arg(b.MinLat)+" AND "+arg(b.MaxLat))
		clauses = append(clauses, "longitude BETWEEN "+arg(b.MinLng)+" AND "+arg(b.MaxLng))
	}

	query := `SELECT ` + selectFacilityColumns + ` FROM facilities`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY quality_score DESC, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facilities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan facility: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordSyncStatus appends one pipeline run record.
func (s *PostgresStore) RecordSyncStatus(ctx context.Context, status *facility.SyncStatus) (err error) {
	defer func(start time.Time) { s.observe("record_sync", start, err) }(time.Now())

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			run_id, pipeline, mode, started_at, completed_at, duration_ms,
			extracted, transformed, validated, loaded, rejected, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		status.RunID, status.Pipeline, status.Mode,
		status.StartedAt, status.CompletedAt, status.Duration.Milliseconds(),
		status.RecordsExtracted, status.RecordsTransformed, status.RecordsValidated,
		status.RecordsLoaded, status.RecordsRejected, status.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync status: %w", err)
	}
	return nil
}

// LastSyncTime returns the completion time of the most recent successful
// run, or the zero time when none exists.
func (s *PostgresStore) LastSyncTime(ctx context.Context) (ts time.Time, err error) {
	defer func(start time.Time) { s.observe("last_sync", start, err) }(time.Now())

	var last sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(completed_at) FROM sync_runs WHERE error = ''`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time.UTC(), nil
}

// HealthCheck pings the database.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for the health checker.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFacility(row rowScanner) (*facility.Facility, error) {
	var (
		f        facility.Facility
		lat, lng sql.NullFloat64
		capacity sql.NullInt64
	)

	err := row.Scan(
		&f.ID, &f.Name, &f.Street, &f.City, &f.State, &f.Zip, &f.Phone, &f.Website,
		&lat, &lng,
		pq.Array(&f.Services), pq.Array(&f.Insurance),
		pq.Array(&f.Amenities), pq.Array(&f.Specialties),
		&f.FacilityType, &f.Residential, &f.Verified, &f.Description, &capacity,
		&f.QualityScore, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		f.Latitude, f.Longitude = &lat.Float64, &lng.Float64
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		f.Capacity = &c
	}
	return &f, nil
}
