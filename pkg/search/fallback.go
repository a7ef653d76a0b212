package search

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
)

//go:embed fallback.yaml
var defaultFallbackYAML []byte

// FallbackSet is the static facility set served when the store is down.
// Small on purpose: a degraded answer beats an error page, but it should
// be obviously incomplete.
type FallbackSet struct {
	Facilities []*facility.Facility
}

type fallbackFile struct {
	Facilities []fallbackFacility `yaml:"facilities"`
}

type fallbackFacility struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	City        string   `yaml:"city"`
	State       string   `yaml:"state"`
	Phone       string   `yaml:"phone"`
	Latitude    float64  `yaml:"latitude"`
	Longitude   float64  `yaml:"longitude"`
	Services    []string `yaml:"services"`
	Residential bool     `yaml:"residential"`
}

// LoadFallback reads the fallback set from path, or the embedded default
// set when path is empty.
func LoadFallback(path string) (*FallbackSet, error) {
	data := defaultFallbackYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading fallback file: %w", err)
		}
		data = b
	}

	var file fallbackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing fallback file: %w", err)
	}
	if len(file.Facilities) == 0 {
		return nil, fmt.Errorf("fallback set is empty")
	}

	set := &FallbackSet{Facilities: make([]*facility.Facility, 0, len(file.Facilities))}
	for _, f := range file.Facilities {
		lat, lng := f.Latitude, f.Longitude
		fac := &facility.Facility{
			ID:          f.ID,
			Name:        f.Name,
			City:        f.City,
			State:       f.State,
			Phone:       f.Phone,
			Latitude:    &lat,
			Longitude:   &lng,
			Services:    f.Services,
			Residential: f.Residential,
		}
		fac.QualityScore = facility.Score(fac)
		set.Facilities = append(set.Facilities, fac)
	}
	return set, nil
}
