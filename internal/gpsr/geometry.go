package gpsr

import "math"

// angleOf returns the absolute bearing in degrees, normalized to
// [0, 360), of the vector from origin to p using atan2.
func angleOf(origin, p Position) float64 {
	dx := p.X - origin.X
	dy := p.Y - origin.Y
	deg := math.Atan2(dy, dx) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

// normalizeAngle reduces diff to the range (0, 360], rewriting an exact 0
// to 360 so that a vector pointing in precisely the reference direction
// is treated as a full counter-clockwise revolution rather than the
// smallest possible angle (spec §4.B point 3).
func normalizeAngle(diff float64) float64 {
	deg := math.Mod(diff, 360)
	if deg < 0 {
		deg += 360
	}
	if deg == 0 {
		deg = 360
	}
	return deg
}
