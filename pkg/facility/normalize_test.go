package facility

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestNormalize_Validation(t *testing.T) {
	tests := []struct {
		name      string
		rec       SourceRecord
		wantValid bool
		wantErr   string
	}{
		{
			name:      "valid record",
			rec:       SourceRecord{Name: "Serenity House", City: "Austin", State: "TX"},
			wantValid: true,
		},
		{
			name:      "missing name",
			rec:       SourceRecord{City: "Austin", State: "TX"},
			wantValid: false,
			wantErr:   "facility name is required",
		},
		{
			name:      "missing state",
			rec:       SourceRecord{Name: "Serenity House", City: "Austin"},
			wantValid: false,
			wantErr:   "state is required",
		},
		{
			name:      "invalid state code",
			rec:       SourceRecord{Name: "Serenity House", State: "ZZ"},
			wantValid: false,
			wantErr:   "invalid state code: ZZ",
		},
		{
			name:      "lowercase state is accepted",
			rec:       SourceRecord{Name: "Serenity House", State: "tx"},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, result := Normalize(tt.rec)
			assert.Equal(t, tt.wantValid, result.IsValid)
			if tt.wantErr != "" {
				assert.Contains(t, result.Errors, tt.wantErr)
			}
		})
	}
}

func TestNormalize_FieldAliases(t *testing.T) {
	t.Run("facilityName wins over name", func(t *testing.T) {
		fac, _ := Normalize(SourceRecord{
			FacilityName: "Hope Recovery Center",
			Name:         "hope recovery",
			State:        "CA",
		})
		assert.Equal(t, "Hope Recovery Center", fac.Name)
	})

	t.Run("street1 wins over address", func(t *testing.T) {
		fac, _ := Normalize(SourceRecord{
			Name:    "Hope Recovery Center",
			State:   "CA",
			Street1: "100 Main St",
			Address: "PO Box 7",
		})
		assert.Equal(t, "100 Main St", fac.Street)
	})

	t.Run("zipcode used when zip absent", func(t *testing.T) {
		fac, _ := Normalize(SourceRecord{
			Name:    "Hope Recovery Center",
			State:   "CA",
			ZipCode: "94110",
		})
		assert.Equal(t, "94110", fac.Zip)
	})
}

func TestNormalize_Coordinates(t *testing.T) {
	t.Run("valid coordinates kept", func(t *testing.T) {
		fac, _ := Normalize(SourceRecord{
			Name: "A", State: "CA",
			Latitude: f64(37.7749), Longitude: f64(-122.4194),
		})
		require.True(t, fac.HasCoordinates())
		assert.Equal(t, 37.7749, *fac.Latitude)
	})

	t.Run("out of range latitude nulled with warning", func(t *testing.T) {
		fac, result := Normalize(SourceRecord{
			Name: "A", State: "CA",
			Latitude: f64(91), Longitude: f64(-122.4194),
		})
		assert.False(t, fac.HasCoordinates())
		assert.True(t, result.IsValid)
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("single coordinate treated as missing", func(t *testing.T) {
		fac, result := Normalize(SourceRecord{
			Name: "A", State: "CA", Latitude: f64(37.7749),
		})
		assert.Nil(t, fac.Latitude)
		assert.Nil(t, fac.Longitude)
		assert.Contains(t, result.Warnings, "missing coordinates")
	})
}

func TestNormalize_QualityScore(t *testing.T) {
	full := SourceRecord{
		Name: "A", Street1: "100 Main St", City: "Austin", State: "TX",
		Phone: "512-555-0100", Latitude: f64(30.2), Longitude: f64(-97.7),
	}

	t.Run("complete record scores 1.0", func(t *testing.T) {
		fac, _ := Normalize(full)
		assert.InDelta(t, 1.0, fac.QualityScore, 1e-9)
	})

	t.Run("deterministic for the same input", func(t *testing.T) {
		a, _ := Normalize(full)
		b, _ := Normalize(full)
		assert.Equal(t, a.QualityScore, b.QualityScore)
		assert.Equal(t, a.ID, b.ID)
	})

	t.Run("missing fields lower the score", func(t *testing.T) {
		fac, _ := Normalize(SourceRecord{Name: "A", State: "TX"})
		assert.Less(t, fac.QualityScore, 1.0)
		assert.Greater(t, fac.QualityScore, 0.0)
	})
}

func TestNormalize_StableID(t *testing.T) {
	t.Run("explicit upstream id kept", func(t *testing.T) {
		fac, _ := Normalize(SourceRecord{ID: "upstream-42", Name: "A", State: "TX"})
		assert.Equal(t, "upstream-42", fac.ID)
	})

	t.Run("derived id is stable across case differences", func(t *testing.T) {
		a, _ := Normalize(SourceRecord{Name: "Serenity House", City: "Austin", State: "TX"})
		b, _ := Normalize(SourceRecord{Name: "SERENITY HOUSE", City: "austin", State: "tx"})
		assert.Equal(t, a.ID, b.ID)
	})
}

func TestFieldList_Unmarshal(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		want          []string
		wantAmbiguous bool
	}{
		{name: "json array", raw: `["detox","residential"]`, want: []string{"detox", "residential"}},
		{name: "semicolon string", raw: `"detox; residential"`, want: []string{"detox", "residential"}},
		{name: "comma string", raw: `"detox,residential"`, want: []string{"detox", "residential"}},
		{
			name:          "both delimiters flags ambiguity",
			raw:           `"detox, iop; residential"`,
			want:          []string{"detox, iop", "residential"},
			wantAmbiguous: true,
		},
		{name: "empty entries dropped", raw: `"detox;;  ; residential"`, want: []string{"detox", "residential"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fl FieldList
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &fl))
			assert.Equal(t, tt.want, fl.Values)
			assert.Equal(t, tt.wantAmbiguous, fl.Ambiguous)
		})
	}
}

func TestNormalize_AmbiguousListWarning(t *testing.T) {
	var rec SourceRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "A", "state": "TX",
		"services": "detox, iop; residential"
	}`), &rec))

	_, result := Normalize(rec)
	assert.True(t, result.IsValid)
	assert.Contains(t, result.Warnings, "ambiguous delimiter in services field, split on ';'")
}

func TestEnrichmentFragment_Apply(t *testing.T) {
	capacity := 24
	fac := Facility{
		Name: "A", State: "TX",
		Description: "old",
		Amenities:   []string{"gym"},
	}

	frag := EnrichmentFragment{
		Description: "Structured sober living with 12-step support",
		Capacity:    &capacity,
		Amenities:   []string{"pool", "gym"},
		Programs:    []string{"aftercare"},
	}
	frag.Apply(&fac)

	assert.Equal(t, "Structured sober living with 12-step support", fac.Description)
	assert.Equal(t, 24, *fac.Capacity)
	assert.ElementsMatch(t, []string{"gym", "pool"}, fac.Amenities)
	assert.Contains(t, fac.Services, "aftercare")

	t.Run("empty fragment leaves fields untouched", func(t *testing.T) {
		before := fac
		EnrichmentFragment{}.Apply(&fac)
		assert.Equal(t, before.Description, fac.Description)
		assert.Equal(t, before.Capacity, fac.Capacity)
	})
}
