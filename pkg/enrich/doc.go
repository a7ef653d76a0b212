// Package enrich augments facilities with data pulled from their own
// websites. Enrichment is strictly best-effort: a failed or slow fetch never
// fails the pipeline run, it just leaves the facility as-is.
package enrich
