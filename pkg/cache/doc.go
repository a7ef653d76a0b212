// Package cache implements the two-tier response cache for search results:
// a size-bounded process-local LRU tier in front of a shared Redis tier.
//
// Reads check the local tier first, then Redis; a distributed hit
// back-fills the local tier. Writes go to both tiers. A Redis outage
// degrades silently to local-only operation.
//
// Keys are deterministic fingerprints of the normalized query parameters,
// see Fingerprint. Inputs are rounded and sorted before formatting so
// equivalent queries always share a key.
package cache
