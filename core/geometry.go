package core

import "math"

// TwoPi is a full revolution in radians.
const TwoPi = 2 * math.Pi

// SignalSpeed is the propagation speed of inter-satellite links (m/s).
const SignalSpeed = 299792458.0

// MathRound rounds half away from zero: sign(x) * floor(|x| + 0.5). It is
// used for every hop count so east and west rounding stay symmetric.
func MathRound(x float64) int {
	return int(math.Copysign(1, x) * math.Floor(math.Abs(x)+0.5))
}

// WrapAngle reduces a into [0, 2π).
func WrapAngle(a float64) float64 {
	a = math.Mod(a, TwoPi)
	if a < 0 {
		a += TwoPi
	}
	if a >= TwoPi {
		a -= TwoPi
	}
	return a
}

// PlaneAngle is the right ascension of plane p in a constellation of
// planes equally spaced planes.
func PlaneAngle(p, planes int) float64 {
	return float64(p) * (TwoPi / float64(planes))
}

// SlotAngle is the in-plane phase angle of slot s among slots equally
// spaced satellites.
func SlotAngle(s, slots int) float64 {
	return float64(s) * (TwoPi / float64(slots))
}
