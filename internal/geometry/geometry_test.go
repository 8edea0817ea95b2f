package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBoxOrdering(t *testing.T) {
	b := NewBox(10, 20, 2, 4)
	assert.Equal(t, Box{MinX: 2, MinY: 4, MaxX: 10, MaxY: 20}, b)
}

func TestBoxArea(t *testing.T) {
	// Inclusive pixel-area convention: a 10x10 box covers 11x11 samples.
	b := NewBox(0, 0, 10, 10)
	assert.InDelta(t, 121.0, b.Area(), 1e-9)
}

func TestBoxContains(t *testing.T) {
	b := NewBox(0, 0, 10, 10)
	tests := []struct {
		name string
		p    Point
		want bool
	}{
		{"center", Point{5, 5}, true},
		{"on edge", Point{0, 5}, false},
		{"outside", Point{-1, 5}, false},
		{"corner", Point{10, 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Contains(tt.p))
		})
	}
}

func TestIntersect(t *testing.T) {
	a := NewBox(0, 0, 10, 10)
	b := NewBox(5, 5, 15, 15)
	got := a.Intersect(b)
	assert.Equal(t, NewBox(5, 5, 10, 10), got)

	c := NewBox(20, 20, 30, 30)
	assert.True(t, a.Intersect(c).Empty())
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{"identical", NewBox(0, 0, 10, 10), NewBox(0, 0, 10, 10), 1.0},
		{"disjoint", NewBox(0, 0, 10, 10), NewBox(20, 20, 30, 30), 0.0},
		{"half overlap", NewBox(0, 0, 10, 10), NewBox(0, 5, 10, 15), 100.0 / 300.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IoU(tt.a, tt.b), 1e-9)
		})
	}
}

func TestBoundingBox(t *testing.T) {
	pts := []Point{{3, 7}, {-1, 2}, {5, 0}}
	b := BoundingBox(pts)
	assert.Equal(t, Box{MinX: -1, MinY: 0, MaxX: 5, MaxY: 7}, b)

	assert.Equal(t, Box{}, BoundingBox(nil))
}

func TestPolygonArea(t *testing.T) {
	square := []Point{{0, 0}, {4, 0}, {4, 4}, {0, 4}}
	assert.InDelta(t, 16.0, PolygonArea(square), 1e-9)

	require.Zero(t, PolygonArea([]Point{{0, 0}, {1, 1}}))
}

func TestScaleAndOffsetPoints(t *testing.T) {
	pts := []Point{{1, 2}, {3, 4}}
	scaled := ScalePoints(pts, 2, 0.5)
	assert.Equal(t, []Point{{2, 1}, {6, 2}}, scaled)

	off := OffsetPoints(pts, 1, -1)
	assert.Equal(t, []Point{{2, 1}, {4, 3}}, off)
	// Input untouched
	assert.Equal(t, []Point{{1, 2}, {3, 4}}, pts)
}
