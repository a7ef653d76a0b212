package facility

import (
	"sort"
	"strings"
)

// Deduplicate merges facilities that share the same normalized
// name+city+state identity. Within a group, scalar fields take the first
// non-empty value walking the group from highest quality score down
// (most recently updated wins a quality tie, source order wins a full tie);
// list fields are unioned. The merged record's quality score is recomputed,
// which makes the operation idempotent: deduplicating an already
// deduplicated batch is a no-op.
func Deduplicate(in []*Facility) []*Facility {
	if len(in) <= 1 {
		return in
	}

	type group struct {
		members []*Facility
		order   int
	}

	groups := make(map[string]*group)
	var keys []string
	for i, f := range in {
		key := GroupKey(f.Name, f.City, f.State)
		g, ok := groups[key]
		if !ok {
			g = &group{order: i}
			groups[key] = g
			keys = append(keys, key)
		}
		g.members = append(g.members, f)
	}

	// Preserve first-seen order so output is deterministic.
	sort.Slice(keys, func(i, j int) bool {
		return groups[keys[i]].order < groups[keys[j]].order
	})

	out := make([]*Facility, 0, len(keys))
	for _, key := range keys {
		out = append(out, mergeGroup(groups[key].members))
	}
	return out
}

func mergeGroup(members []*Facility) *Facility {
	if len(members) == 1 {
		return members[0]
	}

	// Stable sort keeps source order as the final tie-break.
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].QualityScore != members[j].QualityScore {
			return members[i].QualityScore > members[j].QualityScore
		}
		return members[i].UpdatedAt.After(members[j].UpdatedAt)
	})

	merged := *members[0]
	for _, m := range members[1:] {
		fillScalars(&merged, m)
		merged.Services = unionStrings(merged.Services, m.Services)
		merged.Insurance = unionStrings(merged.Insurance, m.Insurance)
		merged.Amenities = unionStrings(merged.Amenities, m.Amenities)
		merged.Specialties = unionStrings(merged.Specialties, m.Specialties)
		merged.Residential = merged.Residential || m.Residential
		merged.Verified = merged.Verified || m.Verified
		if m.CreatedAt.Before(merged.CreatedAt) {
			merged.CreatedAt = m.CreatedAt
		}
		if m.UpdatedAt.After(merged.UpdatedAt) {
			merged.UpdatedAt = m.UpdatedAt
		}
	}
	merged.QualityScore = Score(&merged)
	return &merged
}

// fillScalars copies scalar fields from donor into dst where dst has none.
func fillScalars(dst, donor *Facility) {
	if dst.Street == "" {
		dst.Street = donor.Street
	}
	if dst.Zip == "" {
		dst.Zip = donor.Zip
	}
	if dst.Phone == "" {
		dst.Phone = donor.Phone
	}
	if dst.Website == "" {
		dst.Website = donor.Website
	}
	if dst.FacilityType == "" {
		dst.FacilityType = donor.FacilityType
	}
	if dst.Description == "" {
		dst.Description = donor.Description
	}
	if dst.Capacity == nil {
		dst.Capacity = donor.Capacity
	}
	if !dst.HasCoordinates() && donor.HasCoordinates() {
		dst.Latitude = donor.Latitude
		dst.Longitude = donor.Longitude
	}
}

// unionStrings merges two string sets case-insensitively, returning a
// sorted slice so merged output is deterministic.
func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]string, len(a)+len(b))
	for _, v := range a {
		if v = strings.TrimSpace(v); v != "" {
			seen[strings.ToLower(v)] = v
		}
	}
	for _, v := range b {
		if v = strings.TrimSpace(v); v != "" {
			if _, ok := seen[strings.ToLower(v)]; !ok {
				seen[strings.ToLower(v)] = v
			}
		}
	}
	out := make([]string, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
