package geometry

import "math"

// Point represents a 2D coordinate in float space.
type Point struct {
	X float64
	Y float64
}

// Box represents an axis-aligned bounding box in float coordinates.
type Box struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBox constructs a Box from min/max coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

// Width returns the box width.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box height.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Area returns the pixel area of the box using inclusive edge counting,
// matching the (x1-x0+1)*(y1-y0+1) convention used for assignment tie-breaks.
func (b Box) Area() float64 {
	return (b.MaxX - b.MinX + 1) * (b.MaxY - b.MinY + 1)
}

// Center returns the geometric center of the box.
func (b Box) Center() Point {
	return Point{X: (b.MinX + b.MaxX) / 2, Y: (b.MinY + b.MaxY) / 2}
}

// Contains reports whether p lies strictly inside the box.
func (b Box) Contains(p Point) bool {
	return p.X > b.MinX && p.X < b.MaxX && p.Y > b.MinY && p.Y < b.MaxY
}

// Intersect returns the intersection of two boxes. The result may be
// empty (negative width or height) when the boxes do not overlap.
func (b Box) Intersect(o Box) Box {
	return Box{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
}

// Empty reports whether the box has non-positive extent.
func (b Box) Empty() bool {
	return b.MaxX <= b.MinX || b.MaxY <= b.MinY
}

// ClampPoint restricts p to [0,w-1] x [0,h-1].
func (b Box) ClampPoint(p Point) Point {
	return Point{
		X: clamp(p.X, b.MinX, b.MaxX),
		Y: clamp(p.Y, b.MinY, b.MaxY),
	}
}

// IoU computes intersection-over-union for two boxes using exclusive
// (continuous) areas. Returns 0 for degenerate inputs.
func IoU(a, b Box) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	iw := inter.Width()
	ih := inter.Height()
	union := a.Width()*a.Height() + b.Width()*b.Height() - iw*ih
	if union <= 0 {
		return 0
	}
	return iw * ih / union
}

// BoundingBox returns the tight axis-aligned envelope of a point set.
// An empty input yields the zero Box.
func BoundingBox(pts []Point) Box {
	if len(pts) == 0 {
		return Box{}
	}
	b := Box{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// PolygonArea returns the absolute area enclosed by the polygon using
// the shoelace formula. Open polygons are treated as closed.
func PolygonArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	sum := 0.0
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(sum) / 2
}

// ScalePoints returns a scaled copy of points.
func ScalePoints(pts []Point, sx, sy float64) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X * sx, Y: p.Y * sy}
	}
	return out
}

// OffsetPoints returns an offset copy of points.
func OffsetPoints(pts []Point, dx, dy float64) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp restricts v to [lo,hi].
func Clamp(v, lo, hi float64) float64 { return clamp(v, lo, hi) }
