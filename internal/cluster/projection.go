package cluster

import "math"

// LngX projects a longitude in degrees onto the unit interval.
func LngX(lng float64) float64 {
	return lng/360 + 0.5
}

// LatY projects a latitude in degrees onto the unit interval using spherical
// Mercator. The result is clamped to [0, 1] so poles stay finite.
func LatY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}

// XLng is the inverse of LngX.
func XLng(x float64) float64 {
	return (x - 0.5) * 360
}

// YLat is the inverse of LatY.
func YLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}
