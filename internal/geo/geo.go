// Package geo holds the coordinate collaborators used during ingestion.
package geo

import (
	"context"
	"math"
)

// UnknownLocation is used when reverse geocoding fails.
const UnknownLocation = "Unknown location"

// Extractor reads embedded GPS coordinates from raw image bytes.
type Extractor interface {
	Extract(data []byte) (lat, lng float64, ok bool)
}

// Geocoder maps coordinates to a display name such as
// "Bengaluru Urban, Karnataka, India".
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

// ValidCoordinates reports whether lat/lng are finite and in range.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
