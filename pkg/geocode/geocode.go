// Package geocode resolves missing facility coordinates from address
// fields. The Geocoder interface is pluggable; the ETL pipeline treats it
// as optional and a nil geocoder simply skips the geocoding stage.
package geocode

import (
	"context"
	"strings"
)

// Geocoder resolves an address to coordinates. ok is false when the
// resolver has no answer; err is reserved for transport failures in
// network-backed implementations.
type Geocoder interface {
	Geocode(ctx context.Context, street, city, state, zip string) (lat, lng float64, ok bool, err error)
}

// Static resolves coordinates from an in-memory centroid table: exact
// city+state first, then the state centroid as a coarse fallback. It never
// fails, it only declines.
type Static struct {
	cities map[string][2]float64
	states map[string][2]float64
}

// NewStatic builds the resolver with the built-in centroid tables.
func NewStatic() *Static {
	return &Static{cities: cityCentroids, states: stateCentroids}
}

// Geocode implements Geocoder.
func (s *Static) Geocode(_ context.Context, _, city, state, _ string) (float64, float64, bool, error) {
	state = strings.ToUpper(strings.TrimSpace(state))
	city = strings.ToLower(strings.TrimSpace(city))

	if city != "" && state != "" {
		if c, ok := s.cities[city+"|"+state]; ok {
			return c[0], c[1], true, nil
		}
	}
	if c, ok := s.states[state]; ok {
		return c[0], c[1], true, nil
	}
	return 0, 0, false, nil
}

// cityCentroids covers the metro areas that dominate the upstream dataset.
var cityCentroids = map[string][2]float64{
	"new york|NY":      {40.7128, -74.0060},
	"los angeles|CA":   {34.0522, -118.2437},
	"chicago|IL":       {41.8781, -87.6298},
	"houston|TX":       {29.7604, -95.3698},
	"phoenix|AZ":       {33.4484, -112.0740},
	"philadelphia|PA":  {39.9526, -75.1652},
	"san antonio|TX":   {29.4241, -98.4936},
	"san diego|CA":     {32.7157, -117.1611},
	"dallas|TX":        {32.7767, -96.7970},
	"austin|TX":        {30.2672, -97.7431},
	"san francisco|CA": {37.7749, -122.4194},
	"seattle|WA":       {47.6062, -122.3321},
	"denver|CO":        {39.7392, -104.9903},
	"boston|MA":        {42.3601, -71.0589},
	"miami|FL":         {25.7617, -80.1918},
	"atlanta|GA":       {33.7490, -84.3880},
	"portland|OR":      {45.5152, -122.6784},
	"nashville|TN":     {36.1627, -86.7816},
	"minneapolis|MN":   {44.9778, -93.2650},
	"las vegas|NV":     {36.1699, -115.1398},
	"detroit|MI":       {42.3314, -83.0458},
	"baltimore|MD":     {39.2904, -76.6122},
	"columbus|OH":      {39.9612, -82.9988},
	"charlotte|NC":     {35.2271, -80.8431},
	"indianapolis|IN":  {39.7684, -86.1581},
	"st. louis|MO":     {38.6270, -90.1994},
	"new orleans|LA":   {29.9511, -90.0715},
	"salt lake city|UT": {40.7608, -111.8910},
	"kansas city|MO":   {39.0997, -94.5786},
	"pittsburgh|PA":    {40.4406, -79.9959},
}

// stateCentroids gives a coarse per-state fallback.
var stateCentroids = map[string][2]float64{
	"AL": {32.806671, -86.791130}, "AK": {61.370716, -152.404419},
	"AZ": {33.729759, -111.431221}, "AR": {34.969704, -92.373123},
	"CA": {36.116203, -119.681564}, "CO": {39.059811, -105.311104},
	"CT": {41.597782, -72.755371}, "DE": {39.318523, -75.507141},
	"FL": {27.766279, -81.686783}, "GA": {33.040619, -83.643074},
	"HI": {21.094318, -157.498337}, "ID": {44.240459, -114.478828},
	"IL": {40.349457, -88.986137}, "IN": {39.849426, -86.258278},
	"IA": {42.011539, -93.210526}, "KS": {38.526600, -96.726486},
	"KY": {37.668140, -84.670067}, "LA": {31.169546, -91.867805},
	"ME": {44.693947, -69.381927}, "MD": {39.063946, -76.802101},
	"MA": {42.230171, -71.530106}, "MI": {43.326618, -84.536095},
	"MN": {45.694454, -93.900192}, "MS": {32.741646, -89.678696},
	"MO": {38.456085, -92.288368}, "MT": {46.921925, -110.454353},
	"NE": {41.125370, -98.268082}, "NV": {38.313515, -117.055374},
	"NH": {43.452492, -71.563896}, "NJ": {40.298904, -74.521011},
	"NM": {34.840515, -106.248482}, "NY": {42.165726, -74.948051},
	"NC": {35.630066, -79.806419}, "ND": {47.528912, -99.784012},
	"OH": {40.388783, -82.764915}, "OK": {35.565342, -96.928917},
	"OR": {44.572021, -122.070938}, "PA": {40.590752, -77.209755},
	"RI": {41.680893, -71.511780}, "SC": {33.856892, -80.945007},
	"SD": {44.299782, -99.438828}, "TN": {35.747845, -86.692345},
	"TX": {31.054487, -97.563461}, "UT": {40.150032, -111.862434},
	"VT": {44.045876, -72.710686}, "VA": {37.769337, -78.169968},
	"WA": {47.400902, -121.490494}, "WV": {38.491226, -80.954453},
	"WI": {44.268543, -89.616508}, "WY": {42.755966, -107.302490},
	"DC": {38.897438, -77.026817}, "PR": {18.220833, -66.590149},
}
