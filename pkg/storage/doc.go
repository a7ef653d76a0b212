// Package storage defines the facility store contract shared by the ETL
// pipeline (writes) and the search service (reads), plus its PostgreSQL
// implementation.
//
// All writes are idempotent upserts keyed by the facility ID, so ETL
// replays and concurrent enrichment updates never create duplicates. Sync
// run statuses are persisted append-only for audit.
package storage
