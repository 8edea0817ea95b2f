// Package testutil provides shared helpers for tests.
package testutil

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fournet/internal/geometry"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// GetTestDataDir returns the path to the testdata directory.
func GetTestDataDir(t *testing.T) string {
	t.Helper()

	root, err := GetProjectRoot()
	require.NoError(t, err, "Failed to find project root")

	return filepath.Join(root, "testdata")
}

// CircleContour returns points on a circle around center, ordered
// counterclockwise.
func CircleContour(center geometry.Point, radius float64, n int) []geometry.Point {
	pts := make([]geometry.Point, n)
	for i := range n {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = geometry.Point{
			X: center.X + radius*math.Sin(a),
			Y: center.Y + radius*math.Cos(a),
		}
	}
	return pts
}

// BoxContour returns points sampled along the edges of an axis-aligned
// box, perSide points on each edge.
func BoxContour(box geometry.Box, perSide int) []geometry.Point {
	if perSide < 2 {
		perSide = 2
	}
	pts := make([]geometry.Point, 0, 4*perSide)
	step := func(a, b float64, i int) float64 {
		return a + (b-a)*float64(i)/float64(perSide)
	}
	for i := range perSide {
		pts = append(pts, geometry.Point{X: step(box.MinX, box.MaxX, i), Y: box.MinY})
	}
	for i := range perSide {
		pts = append(pts, geometry.Point{X: box.MaxX, Y: step(box.MinY, box.MaxY, i)})
	}
	for i := range perSide {
		pts = append(pts, geometry.Point{X: step(box.MaxX, box.MinX, i), Y: box.MaxY})
	}
	for i := range perSide {
		pts = append(pts, geometry.Point{X: box.MinX, Y: step(box.MaxY, box.MinY, i)})
	}
	return pts
}

// StarContour returns a star-shaped contour alternating between an
// outer and inner radius, exercising non-convex shapes.
func StarContour(center geometry.Point, outer, inner float64, spikes int) []geometry.Point {
	n := 2 * spikes
	pts := make([]geometry.Point, n)
	for i := range n {
		r := outer
		if i%2 == 1 {
			r = inner
		}
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = geometry.Point{
			X: center.X + r*math.Sin(a),
			Y: center.Y + r*math.Cos(a),
		}
	}
	return pts
}
