// Package search serves geospatial facility queries. A request flows
// through admission control, the multi-tier cache, and finally the store,
// where a coarse bounding box narrows candidates before exact great-circle
// ranking. When the store is unreachable the service degrades to a small
// static facility set rather than failing the request.
package search
