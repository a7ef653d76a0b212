package facility

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// facilityNamespace seeds deterministic facility IDs so re-ingesting the
// same record always yields the same ID (upserts stay idempotent).
var facilityNamespace = uuid.MustParse("7a5ed0f4-8c21-4f10-9f5e-3d2c6b1a0e42")

// validStates is the two-letter USPS state and territory set.
var validStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "DC": true, "PR": true, "VI": true, "GU": true,
	"AS": true, "MP": true,
}

// Quality score weights over the required fields. The coordinate bonus is
// added on top and the total is capped at 1.0.
const (
	weightName    = 0.30
	weightAddress = 0.20
	weightCity    = 0.15
	weightState   = 0.20
	weightPhone   = 0.15
	bonusCoords   = 0.10
)

// Normalize converts one raw source record into the canonical facility
// shape and validates it. It is a pure function: the same record always
// produces the same facility (including ID and quality score).
//
// Field aliases resolve first-present-wins in this order:
//
//	name:    facilityName, name1, name
//	street:  street1, street, address
//	zip:     zip, zipcode
//	phone:   phone, phoneNumber
func Normalize(rec SourceRecord) (Facility, ValidationResult) {
	result := ValidationResult{IsValid: true}

	name := firstNonEmpty(rec.FacilityName, rec.Name1, rec.Name)
	street := firstNonEmpty(rec.Street1, rec.Street, rec.Address)
	zip := firstNonEmpty(rec.Zip, rec.ZipCode)
	phone := firstNonEmpty(rec.Phone, rec.Phone2)

	state := strings.ToUpper(strings.TrimSpace(rec.State))

	if name == "" {
		result.IsValid = false
		result.Errors = append(result.Errors, "facility name is required")
	}
	switch {
	case state == "":
		result.IsValid = false
		result.Errors = append(result.Errors, "state is required")
	case !validStates[state]:
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("invalid state code: %s", state))
	}

	if street == "" {
		result.Warnings = append(result.Warnings, "missing street address")
	}
	if strings.TrimSpace(rec.City) == "" {
		result.Warnings = append(result.Warnings, "missing city")
	}
	if phone == "" {
		result.Warnings = append(result.Warnings, "missing phone")
	}
	if zip == "" {
		result.Warnings = append(result.Warnings, "missing zip")
	}

	lat, lng := rec.Latitude, rec.Longitude
	if lat != nil && (*lat < -90 || *lat > 90) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("latitude out of range: %v", *lat))
		lat = nil
	}
	if lng != nil && (*lng < -180 || *lng > 180) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("longitude out of range: %v", *lng))
		lng = nil
	}
	if lat == nil || lng == nil {
		// A record with only one coordinate is as useless for geo queries
		// as one with none.
		lat, lng = nil, nil
		result.Warnings = append(result.Warnings, "missing coordinates")
	}

	services := mergeFieldLists(&result, "services", rec.Services, rec.ServiceList)
	insurance := mergeFieldLists(&result, "insurance", rec.Insurance, rec.Payment)
	amenities := mergeFieldLists(&result, "amenities", rec.Amenities)
	specialties := mergeFieldLists(&result, "specialties", rec.Specialties)

	now := time.Now().UTC()
	updatedAt := now
	if rec.LastUpdated != "" {
		if ts, err := parseUpstreamTime(rec.LastUpdated); err == nil {
			updatedAt = ts
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unparseable lastUpdated: %q", rec.LastUpdated))
		}
	}

	raw, _ := json.Marshal(rec)

	fac := Facility{
		ID:           deriveID(rec.ID, name, rec.City, state),
		Name:         strings.TrimSpace(name),
		Street:       strings.TrimSpace(street),
		City:         strings.TrimSpace(rec.City),
		State:        state,
		Zip:          strings.TrimSpace(zip),
		Phone:        strings.TrimSpace(phone),
		Website:      strings.TrimSpace(rec.Website),
		Latitude:     lat,
		Longitude:    lng,
		Services:     services,
		Insurance:    insurance,
		Amenities:    amenities,
		Specialties:  specialties,
		FacilityType: strings.TrimSpace(rec.FacilityType),
		Residential:  rec.Residential != nil && *rec.Residential,
		Verified:     rec.Verified != nil && *rec.Verified,
		Description:  strings.TrimSpace(rec.Description),
		RawSource:    raw,
		CreatedAt:    now,
		UpdatedAt:    updatedAt,
	}
	fac.QualityScore = Score(&fac)

	return fac, result
}

// Score computes the data-quality score in [0,1] from field completeness.
// Deterministic given the same facility fields.
func Score(f *Facility) float64 {
	score := 0.0
	if f.Name != "" {
		score += weightName
	}
	if f.Street != "" {
		score += weightAddress
	}
	if f.City != "" {
		score += weightCity
	}
	if f.State != "" {
		score += weightState
	}
	if f.Phone != "" {
		score += weightPhone
	}
	if f.HasCoordinates() {
		score += bonusCoords
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// deriveID keeps an explicit upstream ID when present; otherwise it derives
// a stable UUIDv5 from the dedupe identity so the same facility always maps
// to the same row.
func deriveID(explicit, name, city, state string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return uuid.NewSHA1(facilityNamespace, []byte(GroupKey(name, city, state))).String()
}

// GroupKey is the case-insensitive composite identity used for both ID
// derivation and deduplication.
func GroupKey(name, city, state string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" +
		strings.ToLower(strings.TrimSpace(city)) + "|" +
		strings.ToUpper(strings.TrimSpace(state))
}

func mergeFieldLists(result *ValidationResult, field string, lists ...FieldList) []string {
	var merged []string
	for _, l := range lists {
		if l.Ambiguous {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("ambiguous delimiter in %s field, split on ';'", field))
		}
		merged = unionStrings(merged, l.Values)
	}
	return merged
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return ""
}

// parseUpstreamTime accepts the timestamp formats observed upstream.
func parseUpstreamTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, f := range formats {
		if ts, err := time.Parse(f, s); err == nil {
			return ts.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
