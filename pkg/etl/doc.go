// Package etl implements the facility ingestion pipeline: a paginated
// extractor for the upstream locator API, the normalize/dedupe/validate/
// geocode/load run loop, and a cron-backed scheduler that triggers runs.
//
// A run is a one-way state machine. Every run, successful or not, emits
// exactly one SyncStatus record so operators can audit pipeline history.
package etl
