package enrich

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/facility"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
)

// Enricher produces a partial facility from external signals. ok is false
// when the enricher has nothing to contribute.
type Enricher interface {
	Enrich(ctx context.Context, f *facility.Facility) (facility.EnrichmentFragment, bool, error)
}

// Noop contributes nothing. Used when enrichment is disabled.
type Noop struct{}

// Enrich implements Enricher.
func (Noop) Enrich(context.Context, *facility.Facility) (facility.EnrichmentFragment, bool, error) {
	return facility.EnrichmentFragment{}, false, nil
}

// WebsiteEnricher scrapes a facility's own website for capacity, amenity,
// and program hints. Parsing is deliberately shallow keyword matching; the
// upstream record stays authoritative for everything it already provides.
type WebsiteEnricher struct {
	client *resty.Client
	logger *observability.Logger
}

// NewWebsiteEnricher builds an enricher with a short per-fetch timeout so a
// slow facility site cannot stall a pipeline batch.
func NewWebsiteEnricher(logger *observability.Logger, timeout time.Duration) *WebsiteEnricher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("User-Agent", "facilities-etl/1.0")

	return &WebsiteEnricher{client: client, logger: logger}
}

var capacityPattern = regexp.MustCompile(`(?i)\b(\d{1,3})[\s-]*(?:bed|beds|resident|residents)\b`)

// amenityKeywords maps page keywords to canonical amenity names.
var amenityKeywords = map[string]string{
	"gym":            "gym",
	"fitness":        "gym",
	"pool":           "pool",
	"wifi":           "wifi",
	"wi-fi":          "wifi",
	"laundry":        "laundry",
	"transportation": "transportation",
	"meals":          "meals",
}

var programKeywords = map[string]string{
	"12-step":      "12-step",
	"twelve step":  "12-step",
	"outpatient":   "outpatient",
	"detox":        "detox",
	"counseling":   "counseling",
	"peer support": "peer support",
	"mat ":         "medication-assisted treatment",
}

// Enrich fetches the facility website and extracts fragment fields from the
// page text. Facilities without a website are skipped.
func (w *WebsiteEnricher) Enrich(ctx context.Context, f *facility.Facility) (facility.EnrichmentFragment, bool, error) {
	if f.Website == "" {
		return facility.EnrichmentFragment{}, false, nil
	}

	resp, err := w.client.R().SetContext(ctx).Get(f.Website)
	if err != nil {
		w.logger.WithError(err).WithField("facility_id", f.ID).
			Debug("website fetch failed, skipping enrichment")
		return facility.EnrichmentFragment{}, false, err
	}
	if resp.StatusCode() >= 400 {
		return facility.EnrichmentFragment{}, false,
			fmt.Errorf("website returned status %d", resp.StatusCode())
	}

	fragment := parsePage(string(resp.Body()))
	found := fragment.Capacity != nil || len(fragment.Amenities) > 0 || len(fragment.Programs) > 0
	return fragment, found, nil
}

func parsePage(body string) facility.EnrichmentFragment {
	lower := strings.ToLower(body)

	var fragment facility.EnrichmentFragment
	if m := capacityPattern.FindStringSubmatch(body); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			fragment.Capacity = &n
		}
	}
	for keyword, amenity := range amenityKeywords {
		if strings.Contains(lower, keyword) && !contains(fragment.Amenities, amenity) {
			fragment.Amenities = append(fragment.Amenities, amenity)
		}
	}
	for keyword, program := range programKeywords {
		if strings.Contains(lower, keyword) && !contains(fragment.Programs, program) {
			fragment.Programs = append(fragment.Programs, program)
		}
	}
	return fragment
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
