package etl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/config"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/enrich"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/geocode"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/storage"
)

// Mode selects how much of the upstream dataset a run processes.
type Mode string

const (
	// ModeFull reprocesses the entire upstream dataset.
	ModeFull Mode = "full"
	// ModeIncremental processes only records updated since the last
	// successful run.
	ModeIncremental Mode = "incremental"
	// ModeTest processes a small fixed number of records end to end.
	ModeTest Mode = "test"
)

// State is the pipeline run state. Transitions are one-way; a run never
// re-enters an earlier state.
type State string

const (
	StateIdle         State = "idle"
	StateExtracting   State = "extracting"
	StateTransforming State = "transforming"
	StateGeocoding    State = "geocoding"
	StateEnriching    State = "enriching"
	StateLoading      State = "loading"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Pipeline runs extract, normalize, dedupe, geocode, and load as one unit
// of work. Safe for use by the scheduler and the CLI concurrently; the
// scheduler additionally serializes overlapping ticks.
type Pipeline struct {
	source   Source
	store    storage.FacilityStore
	geocoder geocode.Geocoder
	enricher enrich.Enricher
	cfg      config.ETLConfig
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	state State
}

// NewPipeline wires the pipeline. geocoder and enricher may be nil; the
// corresponding stages are then skipped regardless of the config toggles.
func NewPipeline(source Source, store storage.FacilityStore, geocoder geocode.Geocoder,
	enricher enrich.Enricher, cfg config.ETLConfig,
	logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		source:   source,
		store:    store,
		geocoder: geocoder,
		enricher: enricher,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		state:    StateIdle,
	}
}

// State returns the current run state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(logger *observability.Logger, s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	logger.WithField("state", string(s)).Info("pipeline state changed")
}

// Run executes one pipeline run and always returns the SyncStatus it
// recorded, even when the run failed partway.
func (p *Pipeline) Run(ctx context.Context, mode Mode) (*facility.SyncStatus, error) {
	return p.RunFrom(ctx, mode, time.Time{})
}

// RunFrom runs like Run but lets incremental mode start from an explicit
// watermark instead of the stored one. A zero from uses the store watermark.
func (p *Pipeline) RunFrom(ctx context.Context, mode Mode, from time.Time) (*facility.SyncStatus, error) {
	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	logger := p.logger.WithField("run_id", runID).WithField("mode", string(mode))

	status := &facility.SyncStatus{
		RunID:     runID,
		Pipeline:  p.cfg.Pipeline,
		Mode:      string(mode),
		StartedAt: time.Now().UTC(),
	}

	err := p.run(ctx, logger, mode, from, status)

	status.CompletedAt = time.Now().UTC()
	status.Duration = status.CompletedAt.Sub(status.StartedAt)
	if err != nil {
		status.Error = err.Error()
		p.setState(logger, StateFailed)
	} else {
		// Partial failures (rejected batches, skipped pages) still complete;
		// only fatal errors land in Failed. status.Error may carry the first
		// batch failure so the watermark holds back.
		p.setState(logger, StateCompleted)
	}

	outcome := "success"
	switch {
	case err != nil:
		outcome = "failure"
	case status.Error != "":
		outcome = "partial"
	}
	p.metrics.ETLRunsTotal.WithLabelValues(string(mode), outcome).Inc()
	p.metrics.ETLRunDuration.Observe(status.Duration.Seconds())

	// The audit record is written exactly once per run, success or not.
	if recErr := p.store.RecordSyncStatus(ctx, status); recErr != nil {
		logger.WithError(recErr).Error("failed to record sync status")
		if err == nil {
			err = fmt.Errorf("recording sync status: %w", recErr)
		}
	}

	logger.WithField("extracted", status.RecordsExtracted).
		WithField("loaded", status.RecordsLoaded).
		WithField("rejected", status.RecordsRejected).
		WithField("duration", status.Duration.String()).
		Info("pipeline run finished")

	return status, err
}

func (p *Pipeline) run(ctx context.Context, logger *observability.Logger, mode Mode, from time.Time, status *facility.SyncStatus) error {
	// A dead store at the start is fatal; there is nowhere to load into.
	if err := p.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}

	var watermark time.Time
	if mode == ModeIncremental {
		watermark = from
		if watermark.IsZero() {
			ts, err := p.store.LastSyncTime(ctx)
			if err != nil {
				return fmt.Errorf("reading incremental watermark: %w", err)
			}
			watermark = ts
		}
		logger.WithField("watermark", watermark.Format(time.RFC3339)).Info("incremental sync watermark")
	}

	// Extract.
	p.setState(logger, StateExtracting)
	limit := -1
	if mode == ModeTest {
		limit = p.cfg.TestLimit
	}
	records, skipped, err := p.source.ExtractAll(ctx, limit)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	status.RecordsExtracted = len(records) + skipped
	p.metrics.ETLRecordsTotal.WithLabelValues("extracted").Add(float64(len(records)))
	if skipped > 0 {
		// Pages that stayed unreadable after retries count their records
		// rejected; the run keeps going with what did arrive.
		status.RecordsRejected += skipped
		p.metrics.ETLRecordsTotal.WithLabelValues("rejected").Add(float64(skipped))
		logger.WithField("skipped", skipped).Warn("some upstream pages could not be fetched")
	}

	// Transform and validate.
	p.setState(logger, StateTransforming)
	facilities := p.transform(logger, records, watermark, status)
	status.RecordsTransformed = len(facilities)
	p.metrics.ETLRecordsTotal.WithLabelValues("transformed").Add(float64(len(facilities)))

	if p.cfg.DeduplicationEnabled {
		before := len(facilities)
		facilities = facility.Deduplicate(facilities)
		if merged := before - len(facilities); merged > 0 {
			logger.WithField("merged", merged).Info("deduplicated facilities")
		}
	}
	status.RecordsValidated = len(facilities)

	// Geocode facilities that still lack coordinates.
	if p.cfg.GeocodingEnabled && p.geocoder != nil {
		p.setState(logger, StateGeocoding)
		p.geocodeMissing(ctx, logger, facilities)
	}

	// Best-effort enrichment; failures never fail the run.
	if p.cfg.EnrichmentEnabled && p.enricher != nil {
		p.setState(logger, StateEnriching)
		p.enrichAll(ctx, logger, facilities)
	}

	// Load in batches.
	p.setState(logger, StateLoading)
	return p.load(ctx, logger, facilities, status)
}

// transform normalizes raw records, rejecting invalid ones when validation
// is enabled and dropping records older than the incremental watermark.
func (p *Pipeline) transform(logger *observability.Logger, records []facility.SourceRecord,
	watermark time.Time, status *facility.SyncStatus) []*facility.Facility {
	facilities := make([]*facility.Facility, 0, len(records))
	for _, rec := range records {
		fac, result := facility.Normalize(rec)

		if p.cfg.ValidationEnabled && !result.IsValid {
			status.RecordsRejected++
			p.metrics.ETLRecordsTotal.WithLabelValues("rejected").Inc()
			logger.WithField("errors", result.Errors).Debug("rejected invalid record")
			continue
		}
		for _, warning := range result.Warnings {
			logger.WithField("facility_id", fac.ID).WithField("warning", warning).
				Debug("normalize warning")
		}

		if !watermark.IsZero() && !fac.UpdatedAt.After(watermark) {
			continue
		}
		facilities = append(facilities, &fac)
	}
	return facilities
}

func (p *Pipeline) geocodeMissing(ctx context.Context, logger *observability.Logger, facilities []*facility.Facility) {
	geocoded := 0
	for _, f := range facilities {
		if f.HasCoordinates() {
			continue
		}
		lat, lng, ok, err := p.geocoder.Geocode(ctx, f.Street, f.City, f.State, f.Zip)
		if err != nil {
			logger.WithError(err).WithField("facility_id", f.ID).Debug("geocode failed")
			continue
		}
		if !ok {
			continue
		}
		f.Latitude, f.Longitude = &lat, &lng
		f.QualityScore = facility.Score(f)
		geocoded++
	}
	if geocoded > 0 {
		logger.WithField("geocoded", geocoded).Info("filled missing coordinates")
		p.metrics.ETLRecordsTotal.WithLabelValues("geocoded").Add(float64(geocoded))
	}
}

func (p *Pipeline) enrichAll(ctx context.Context, logger *observability.Logger, facilities []*facility.Facility) {
	enriched := 0
	for _, f := range facilities {
		fragment, ok, err := p.enricher.Enrich(ctx, f)
		if err != nil {
			logger.WithError(err).WithField("facility_id", f.ID).Debug("enrichment failed")
			continue
		}
		if !ok {
			continue
		}
		fragment.Apply(f)
		enriched++
	}
	if enriched > 0 {
		logger.WithField("enriched", enriched).Info("enriched facilities")
	}
}

// load writes facilities in batches. A batch that still fails after retries
// counts its records as rejected and the run continues to the next batch.
// Batch failures are not fatal: the run still completes and the caller sees
// no error, but the first failure is kept in the sync status so the
// incremental watermark does not advance past unloaded data.
func (p *Pipeline) load(ctx context.Context, logger *observability.Logger,
	facilities []*facility.Facility, status *facility.SyncStatus) error {
	var firstErr error
	for start := 0; start < len(facilities); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(facilities) {
			end = len(facilities)
		}
		batch := facilities[start:end]

		n, err := p.loadBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("load: %w", err)
			}
			p.metrics.ETLBatchesTotal.WithLabelValues("failure").Inc()
			status.RecordsRejected += len(batch)
			logger.WithError(err).WithField("batch_start", start).
				WithField("batch_size", len(batch)).
				Error("batch load failed after retries")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.metrics.ETLBatchesTotal.WithLabelValues("success").Inc()
		status.RecordsLoaded += n
		p.metrics.ETLRecordsTotal.WithLabelValues("loaded").Add(float64(n))
	}

	if firstErr != nil {
		status.Error = fmt.Sprintf("load: %v", firstErr)
	}
	return nil
}

func (p *Pipeline) loadBatch(ctx context.Context, batch []*facility.Facility) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.metrics.ETLRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		n, err := p.store.UpsertFacilities(ctx, batch)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	return 0, lastErr
}
