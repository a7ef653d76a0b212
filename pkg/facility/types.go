package facility

import (
	"encoding/json"
	"strings"
	"time"
)

// FieldList is a list-valued source field that the upstream sends either as
// a JSON array of strings or as a single delimited string. The canonical
// delimiter is ";" with "," accepted as a fallback; a string containing both
// is split on ";" and flagged ambiguous so the normalizer can emit a warning
// instead of silently guessing.
type FieldList struct {
	Values    []string
	Ambiguous bool
}

// UnmarshalJSON accepts ["a","b"], "a; b" and "a,b".
func (f *FieldList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		f.Values = cleanList(list)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	hasSemi := strings.Contains(s, ";")
	hasComma := strings.Contains(s, ",")
	f.Ambiguous = hasSemi && hasComma

	sep := ";"
	if !hasSemi && hasComma {
		sep = ","
	}
	f.Values = cleanList(strings.Split(s, sep))
	return nil
}

// MarshalJSON always emits the canonical array form.
func (f FieldList) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Values)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// SourceRecord is one raw row as received from the upstream source. Every
// field is optional; an empty string or nil pointer means absent. Several
// attributes arrive under alternate names (e.g. facilityName vs name) and
// the normalizer resolves them in a documented priority order.
type SourceRecord struct {
	ID           string `json:"id,omitempty"`
	FacilityName string `json:"facilityName,omitempty"`
	Name1        string `json:"name1,omitempty"`
	Name         string `json:"name,omitempty"`

	Street1 string `json:"street1,omitempty"`
	Street  string `json:"street,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	ZipCode string `json:"zipcode,omitempty"`

	Phone   string `json:"phone,omitempty"`
	Phone2  string `json:"phoneNumber,omitempty"`
	Website string `json:"website,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Services    FieldList `json:"services,omitempty"`
	ServiceList FieldList `json:"typeFacility,omitempty"`
	Insurance   FieldList `json:"insurance,omitempty"`
	Payment     FieldList `json:"paymentAccepted,omitempty"`
	Amenities   FieldList `json:"amenities,omitempty"`
	Specialties FieldList `json:"specialties,omitempty"`

	FacilityType string `json:"facilityType,omitempty"`
	Description  string `json:"description,omitempty"`

	Residential *bool `json:"residential,omitempty"`
	Verified    *bool `json:"verified,omitempty"`

	LastUpdated string `json:"lastUpdated,omitempty"`
}

// Facility is the canonical internal representation of one physical
// treatment facility.
type Facility struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state"`
	Zip     string `json:"zip,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`

	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	Services    []string `json:"services"`
	Insurance   []string `json:"insurance"`
	Amenities   []string `json:"amenities"`
	Specialties []string `json:"specialties"`

	FacilityType string `json:"facilityType,omitempty"`
	Residential  bool   `json:"residential"`
	Verified     bool   `json:"verified"`
	Description  string `json:"description,omitempty"`
	Capacity     *int   `json:"capacity,omitempty"`

	QualityScore float64 `json:"qualityScore"`

	RawSource json.RawMessage `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasCoordinates reports whether the facility can participate in geospatial
// queries.
func (f *Facility) HasCoordinates() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// ValidationResult is the outcome of normalizing one source record.
// Errors make the record invalid; warnings do not.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// SyncStatus is the append-only audit record emitted once per pipeline run.
// It is never mutated after the run completes.
type SyncStatus struct {
	RunID              string        `json:"runId"`
	Pipeline           string        `json:"pipeline"`
	Mode               string        `json:"mode"`
	StartedAt          time.Time     `json:"startedAt"`
	CompletedAt        time.Time     `json:"completedAt"`
	Duration           time.Duration `json:"duration"`
	RecordsExtracted   int           `json:"recordsExtracted"`
	RecordsTransformed int           `json:"recordsTransformed"`
	RecordsValidated   int           `json:"recordsValidated"`
	RecordsLoaded      int           `json:"recordsLoaded"`
	RecordsRejected    int           `json:"recordsRejected"`
	Error              string        `json:"error,omitempty"`
}

// EnrichmentFragment is a best-effort partial facility produced by the
// website-enrichment collaborator. Empty fields leave the existing facility
// values untouched.
type EnrichmentFragment struct {
	Description string   `json:"description,omitempty"`
	Capacity    *int     `json:"capacity,omitempty"`
	Amenities   []string `json:"amenities,omitempty"`
	Insurance   []string `json:"insurance,omitempty"`
	Programs    []string `json:"programs,omitempty"`
}

// Apply merges the non-empty fragment fields into the facility. List fields
// are unioned so repeated enrichment stays idempotent.
func (e EnrichmentFragment) Apply(f *Facility) {
	if e.Description != "" {
		f.Description = e.Description
	}
	if e.Capacity != nil {
		f.Capacity = e.Capacity
	}
	if len(e.Amenities) > 0 {
		f.Amenities = unionStrings(f.Amenities, e.Amenities)
	}
	if len(e.Insurance) > 0 {
		f.Insurance = unionStrings(f.Insurance, e.Insurance)
	}
	if len(e.Programs) > 0 {
		f.Services = unionStrings(f.Services, e.Programs)
	}
}
