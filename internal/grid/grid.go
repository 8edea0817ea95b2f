// Package grid generates the fixed feature-map sample locations shared by
// target assignment and decoding. One point is produced per spatial cell of
// each pyramid level, at the center of the cell in image coordinates.
package grid

import (
	"fmt"

	"github.com/MeKo-Tech/fournet/internal/geometry"
)

// Level describes the spatial size and stride of one pyramid level.
type Level struct {
	Height int
	Width  int
	Stride int
}

// Grid holds the concatenated sample points of all pyramid levels, in
// level order, row-major within each level. Grids are immutable once
// built and safe for concurrent reads.
type Grid struct {
	points   []geometry.Point
	strides  []int // per point
	levels   []Level
	perLevel []int // point count per level
}

// New builds a grid for the given levels. Point (i,j) of a level with
// stride s sits at image coordinates (j*s + s/2, i*s + s/2).
func New(levels []Level) (*Grid, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("grid: no levels given")
	}
	total := 0
	for i, lv := range levels {
		if lv.Height <= 0 || lv.Width <= 0 || lv.Stride <= 0 {
			return nil, fmt.Errorf("grid: invalid level %d: %+v", i, lv)
		}
		total += lv.Height * lv.Width
	}
	g := &Grid{
		points:   make([]geometry.Point, 0, total),
		strides:  make([]int, 0, total),
		levels:   append([]Level(nil), levels...),
		perLevel: make([]int, len(levels)),
	}
	for li, lv := range levels {
		half := lv.Stride / 2
		for i := range lv.Height {
			for j := range lv.Width {
				g.points = append(g.points, geometry.Point{
					X: float64(j*lv.Stride + half),
					Y: float64(i*lv.Stride + half),
				})
				g.strides = append(g.strides, lv.Stride)
			}
		}
		g.perLevel[li] = lv.Height * lv.Width
	}
	return g, nil
}

// NumPoints returns the total point count across all levels.
func (g *Grid) NumPoints() int { return len(g.points) }

// NumLevels returns the number of pyramid levels.
func (g *Grid) NumLevels() int { return len(g.levels) }

// Point returns the sample point at flat index i.
func (g *Grid) Point(i int) geometry.Point { return g.points[i] }

// Points returns the concatenated point slice. Callers must not mutate it.
func (g *Grid) Points() []geometry.Point { return g.points }

// Stride returns the stride of the level that owns flat point index i.
func (g *Grid) Stride(i int) int { return g.strides[i] }

// PerLevel returns the per-level point counts, for splitting flat
// per-point slices back into levels.
func (g *Grid) PerLevel() []int { return g.perLevel }

// LevelRange returns the half-open flat index range [begin,end) of level li.
func (g *Grid) LevelRange(li int) (int, int) {
	begin := 0
	for i := range li {
		begin += g.perLevel[i]
	}
	return begin, begin + g.perLevel[li]
}

// Levels returns the level descriptors. Callers must not mutate the slice.
func (g *Grid) Levels() []Level { return g.levels }
