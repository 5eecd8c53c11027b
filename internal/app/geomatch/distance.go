package geomatch

import (
	"math"

	"github.com/fixit-services/dispatch/internal/ports"
)

// EarthRadiusKm is the mean radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// BoundingBox returns a lat/lng window that contains every point within
// radiusKm of the origin, slightly padded. Returns nil when the window would
// cover a pole or cross the antimeridian; callers then scan unbounded.
func BoundingBox(lat, lng, radiusKm float64) *ports.BoundingBox {
	const pad = 1e-6

	ang := radiusKm / EarthRadiusKm
	latR := toRad(lat)
	minLat, maxLat := latR-ang, latR+ang
	if minLat <= -math.Pi/2 || maxLat >= math.Pi/2 {
		return nil
	}

	dLng := math.Asin(math.Sin(ang) / math.Cos(latR))
	lngR := toRad(lng)
	minLng, maxLng := lngR-dLng, lngR+dLng
	if minLng < -math.Pi || maxLng > math.Pi {
		return nil
	}

	return &ports.BoundingBox{
		MinLat: toDeg(minLat) - pad,
		MaxLat: toDeg(maxLat) + pad,
		MinLng: toDeg(minLng) - pad,
		MaxLng: toDeg(maxLng) + pad,
	}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
