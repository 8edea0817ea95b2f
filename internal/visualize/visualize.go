// Package visualize renders decoded detections as image overlays.
package visualize

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/fournet/internal/decode"
	"github.com/MeKo-Tech/fournet/internal/geometry"
)

// Palette cycles per class so neighboring labels get distinct colors.
var palette = []color.RGBA{
	{R: 230, G: 60, B: 60, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 65, G: 105, B: 225, A: 255},
	{R: 255, G: 165, B: 0, A: 255},
	{R: 160, G: 60, B: 200, A: 255},
	{R: 0, G: 180, B: 180, A: 255},
}

// ClassColor returns the overlay color for a class label.
func ClassColor(label int) color.RGBA {
	if label < 0 {
		label = 0
	}
	return palette[label%len(palette)]
}

// RenderOverlay draws detection boxes and mask polygons over the image
// and returns an RGBA copy. A nil detection list yields a plain copy.
func RenderOverlay(img image.Image, detections []decode.Detection) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}

	for _, det := range detections {
		col := ClassColor(det.Label)
		rect := image.Rect(
			int(math.Round(det.Box.MinX)), int(math.Round(det.Box.MinY)),
			int(math.Round(det.Box.MaxX))+1, int(math.Round(det.Box.MaxY))+1)
		DrawRect(dst, rect, col, 1)
		if len(det.Polygon) >= 2 {
			DrawPolygon(dst, det.Polygon, col, 1)
		}
	}
	return dst
}

// SaveOverlay renders the overlay and writes it to path. The format is
// derived from the file extension.
func SaveOverlay(img image.Image, detections []decode.Detection, path string) error {
	overlay := RenderOverlay(img, detections)
	if overlay == nil {
		return fmt.Errorf("cannot render overlay for nil image")
	}
	if err := imaging.Save(overlay, path); err != nil {
		return fmt.Errorf("failed to save overlay: %w", err)
	}
	return nil
}

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, yTop, col)
			dst.Set(x, yBot, col)
		}
	}
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(xLeft, y, col)
			dst.Set(xRight, y, col)
		}
	}
}

// DrawPolygon draws connected line segments and closes the polygon.
func DrawPolygon(dst *image.RGBA, pts []geometry.Point, col color.Color, thickness int) {
	if len(pts) < 2 {
		return
	}
	ip := make([]image.Point, len(pts))
	for i, p := range pts {
		ip[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	for i := range ip {
		a := ip[i]
		b := ip[(i+1)%len(ip)]
		drawLine(dst, a, b, col, thickness)
	}
}

// drawLine draws a line between two points using a simple Bresenham variant.
func drawLine(dst *image.RGBA, a, b image.Point, col color.Color, thickness int) {
	x0, y0 := a.X, a.Y
	x1, y1 := b.X, b.Y
	dx := int(math.Abs(float64(x1 - x0)))
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -int(math.Abs(float64(y1 - y0)))
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		drawThickPoint(dst, x0, y0, col, thickness)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawThickPoint(dst *image.RGBA, x, y int, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r := (thickness - 1) / 2
	for yy := y - r; yy <= y+r; yy++ {
		for xx := x - r; xx <= x+r; xx++ {
			if image.Pt(xx, yy).In(dst.Bounds()) {
				dst.Set(xx, yy, col)
			}
		}
	}
}
