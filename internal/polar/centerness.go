package polar

import "math"

// Centerness scores how centered the sampling origin is within the
// silhouette described by sig: sqrt(min/max) of the angular distances.
// Uniform signals score 1.0; highly eccentric ones approach 0. Defined
// only for strictly positive signals, which Sampler guarantees via its
// MinDistance floor.
func Centerness(sig Signal) float64 {
	return math.Sqrt(sig.Min() / sig.Max())
}

// NormalizedCenterness divides the raw centerness score by a
// per-instance normalizer and clamps the result to at most 1.0.
// A normalizer <= 0 is treated as absent.
func NormalizedCenterness(sig Signal, normalizer float64) float64 {
	c := Centerness(sig)
	if normalizer > 0 {
		c /= normalizer
	}
	return math.Min(c, 1.0)
}
