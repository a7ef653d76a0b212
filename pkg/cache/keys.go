package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the deterministic cache key for a search query.
//
// Coordinates are rounded to 4 decimal places (roughly 11 meters) so
// trivially different client coordinates share an entry; service filters
// are lowercased and sorted so filter order never changes the key.
//
// Format: search:{lat}:{lng}:{radius}:{services}:{limit}
func Fingerprint(lat, lng, radiusMiles float64, services []string, limit int) string {
	normalized := make([]string, 0, len(services))
	for _, s := range services {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			normalized = append(normalized, s)
		}
	}
	sort.Strings(normalized)

	svc := "none"
	if len(normalized) > 0 {
		svc = strings.Join(normalized, ",")
	}

	return fmt.Sprintf("search:%.4f:%.4f:%.1f:%s:%d", lat, lng, radiusMiles, svc, limit)
}
