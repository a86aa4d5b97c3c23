// Package geo holds the small amount of spherical math the stores without a
// native geospatial index need.
package geo

import "math"

// EarthRadiusMeters is the mean radius used by MongoDB's 2dsphere index.
const EarthRadiusMeters = 6378100.0

// DistanceMeters returns the great-circle (haversine) distance between two
// lat/lng points in degrees.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BoundingBox returns the lat/lng rectangle that contains every point within
// radius meters of the centre. Used to prefilter rows before the exact check.
func BoundingBox(lat, lng, radius float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radius / EarthRadiusMeters * 180 / math.Pi
	minLat, maxLat = lat-dLat, lat+dLat

	cos := math.Cos(lat * math.Pi / 180)
	if cos < 1e-9 || maxLat >= 90 || minLat <= -90 {
		return math.Max(minLat, -90), math.Min(maxLat, 90), -180, 180
	}
	dLng := dLat / cos
	return minLat, maxLat, lng - dLng, lng + dLng
}

// ValidCoordinates reports whether lng/lat are inside the WGS84 ranges.
func ValidCoordinates(lng, lat float64) bool {
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}
