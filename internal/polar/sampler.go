// Package polar converts instance contours into fixed-length angular
// distance signals and derives centerness scores from them.
package polar

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/fournet/internal/geometry"
)

// MinDistance is the floor applied to unmatched angle bins. Keeping it
// strictly positive keeps min/max centerness ratios well-defined.
const MinDistance = 1e-6

// Signal is a fixed-length sequence of non-negative distances, one per
// uniform angle bin, describing a closed contour around a fixed center.
type Signal []float64

// Min returns the smallest entry of the signal.
func (s Signal) Min() float64 {
	m := s[0]
	for _, v := range s[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest entry of the signal.
func (s Signal) Max() float64 {
	m := s[0]
	for _, v := range s[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// AngleTable is the working angle-to-distance map built while sampling:
// the maximum contour distance seen at each whole degree, with a
// presence flag per degree. Indexed by rounded-down degree in [0,360).
type AngleTable struct {
	dist [360]float64
	seen [360]bool
}

// Distance returns the recorded distance at the given whole degree and
// whether any contour point mapped to it.
func (t *AngleTable) Distance(deg int) (float64, bool) {
	if deg < 0 || deg >= 360 {
		return 0, false
	}
	return t.dist[deg], t.seen[deg]
}

func (t *AngleTable) record(deg int, d float64) {
	if deg < 0 || deg >= 360 {
		return
	}
	if !t.seen[deg] || d > t.dist[deg] {
		t.dist[deg] = d
		t.seen[deg] = true
	}
}

// Sampler converts contours into Signals of a fixed bin count.
type Sampler struct {
	n        int
	interval int
}

// NewSampler creates a sampler producing n angle bins. n must divide 360
// evenly so that bins fall on whole degrees.
func NewSampler(n int) (*Sampler, error) {
	if n <= 0 || 360%n != 0 {
		return nil, fmt.Errorf("polar: bin count %d must be a positive divisor of 360", n)
	}
	return &Sampler{n: n, interval: 360 / n}, nil
}

// Bins returns the number of angle bins the sampler produces.
func (s *Sampler) Bins() int { return s.n }

// Interval returns the bin width in whole degrees.
func (s *Sampler) Interval() int { return s.interval }

// Sample converts a contour into a Signal of distances from center.
//
// Each contour point maps to a whole degree via atan2(dx, dy). The
// inverted argument order rotates the zero-angle reference onto the
// +y axis; the decoder's sin/cos pairing matches this convention.
// Each bin takes the maximum distance at its exact degree, falling back
// to neighboring degrees at offsets +1,-1,+2,-2,+3,-3 in that order, and
// finally to MinDistance when nothing matches.
func (s *Sampler) Sample(contour []geometry.Point, center geometry.Point) (Signal, *AngleTable) {
	sig := make(Signal, s.n)
	table := s.SampleInto(sig, contour, center)
	return sig, table
}

// SampleInto is Sample writing into a caller-provided signal of length
// Bins, for allocation-free use on hot paths.
func (s *Sampler) SampleInto(sig Signal, contour []geometry.Point, center geometry.Point) *AngleTable {
	table := &AngleTable{}
	for _, p := range contour {
		dx := p.X - center.X
		dy := p.Y - center.Y
		deg := math.Atan2(dx, dy) * 180 / math.Pi
		if deg < 0 {
			deg += 360
		}
		table.record(int(deg), math.Hypot(dx, dy))
	}

	for i := range s.n {
		a := i * s.interval
		d, ok := lookupWithFallback(table, a)
		if !ok {
			d = MinDistance
		}
		sig[i] = d
	}
	return table
}

// lookupWithFallback probes the exact degree first, then neighbors in
// ascending absolute offset with the positive offset checked before the
// negative one. Offsets never wrap around 0/360.
func lookupWithFallback(t *AngleTable, deg int) (float64, bool) {
	for _, off := range [...]int{0, 1, -1, 2, -2, 3, -3} {
		if d, ok := t.Distance(deg + off); ok {
			return d, true
		}
	}
	return 0, false
}
