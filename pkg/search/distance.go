package search

import "math"

// earthRadiusMiles is the mean Earth radius used for distance ranking.
const earthRadiusMiles = 3959.0

// Haversine returns the great-circle distance in miles between two points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMiles * c
}

// boundingBox returns a coarse lat/lng box covering the radius around a
// point. One degree of latitude spans ~69 miles; longitude degrees shrink
// with the cosine of the latitude.
func boundingBox(lat, lng, radiusMiles float64) (minLat, maxLat, minLng, maxLng float64) {
	const milesPerDegree = 69.0

	dLat := radiusMiles / milesPerDegree
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01 // near the poles every longitude is close
	}
	dLng := radiusMiles / (milesPerDegree * cosLat)

	return lat - dLat, lat + dLat, lng - dLng, lng + dLng
}
