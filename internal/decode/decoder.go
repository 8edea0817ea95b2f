// Package decode reconstructs Cartesian contours and boxes from
// predicted polar distance signals or Fourier coefficients, and filters
// the per-point candidates into final detections.
package decode

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/fournet/internal/fourier"
	"github.com/MeKo-Tech/fournet/internal/geometry"
)

// Decoder turns per-point mask predictions into polygon vertices using a
// fixed table of uniform angles. The representation (raw distances vs.
// Fourier coefficients) is fixed at construction: a nil codec means raw.
type Decoder struct {
	n       int
	sin     []float64
	cos     []float64
	codec   *fourier.Codec
	visuCoe int // coefficient count used outside training, 0 = all
}

// NewDecoder builds a decoder for contourPoints angle bins. codec may be
// nil for the raw-distance representation. visualizeCoe limits the
// coefficients used at inference time for coarser polygons; 0 keeps all.
func NewDecoder(contourPoints int, codec *fourier.Codec, visualizeCoe int) (*Decoder, error) {
	if contourPoints <= 0 || 360%contourPoints != 0 {
		return nil, fmt.Errorf("decode: contour points %d must be a positive divisor of 360", contourPoints)
	}
	if codec != nil {
		if codec.SignalLength() != contourPoints {
			return nil, fmt.Errorf("decode: codec signal length %d does not match contour points %d",
				codec.SignalLength(), contourPoints)
		}
		if visualizeCoe < 0 || visualizeCoe > codec.Coefficients() {
			return nil, fmt.Errorf("decode: visualization coefficients %d out of range [0,%d]",
				visualizeCoe, codec.Coefficients())
		}
	}
	d := &Decoder{
		n:       contourPoints,
		sin:     make([]float64, contourPoints),
		cos:     make([]float64, contourPoints),
		codec:   codec,
		visuCoe: visualizeCoe,
	}
	interval := 360 / contourPoints
	for i := range contourPoints {
		rad := float64(i*interval) * math.Pi / 180
		// Sine pairs with x and cosine with y, matching the sampler's
		// atan2(dx,dy) angle convention.
		d.sin[i] = math.Sin(rad)
		d.cos[i] = math.Cos(rad)
	}
	return d, nil
}

// Bins returns the polygon vertex count.
func (d *Decoder) Bins() int { return d.n }

// Fourier reports whether the decoder consumes coefficient pairs.
func (d *Decoder) Fourier() bool { return d.codec != nil }

// Distances converts one mask prediction into a length-N distance
// signal. Raw predictions are already distances and pass through.
// Fourier predictions arrive as interleaved real/imaginary pairs and go
// through the log-domain inverse transform; outside training the
// visualization coefficient count is applied first.
func (d *Decoder) Distances(pred []float64, train bool) ([]float64, error) {
	if d.codec == nil {
		if len(pred) != d.n {
			return nil, fmt.Errorf("decode: distance prediction length %d, want %d", len(pred), d.n)
		}
		out := make([]float64, d.n)
		copy(out, pred)
		return out, nil
	}
	coeffs, err := fourier.PairsToComplex(pred)
	if err != nil {
		return nil, err
	}
	if len(coeffs) != d.codec.Coefficients() {
		return nil, fmt.Errorf("decode: got %d coefficients, want %d", len(coeffs), d.codec.Coefficients())
	}
	if !train && d.visuCoe > 0 && d.visuCoe < len(coeffs) {
		coeffs = coeffs[:d.visuCoe]
	}
	return d.codec.Decode(coeffs)
}

// Polygon places the distance signal around center as N vertices:
// x = d*sin(a) + cx, y = d*cos(a) + cy. Vertices are clamped to
// [0,imageW-1] x [0,imageH-1] when positive image dimensions are given,
// and additionally to bbox when non-nil.
func (d *Decoder) Polygon(center geometry.Point, distances []float64, imageW, imageH int, bbox *geometry.Box) ([]geometry.Point, error) {
	if len(distances) != d.n {
		return nil, fmt.Errorf("decode: distance signal length %d, want %d", len(distances), d.n)
	}
	pts := make([]geometry.Point, d.n)
	for i, dist := range distances {
		x := dist*d.sin[i] + center.X
		y := dist*d.cos[i] + center.Y
		if imageW > 0 && imageH > 0 {
			x = geometry.Clamp(x, 0, float64(imageW-1))
			y = geometry.Clamp(y, 0, float64(imageH-1))
		}
		if bbox != nil {
			x = geometry.Clamp(x, bbox.MinX, bbox.MaxX)
			y = geometry.Clamp(y, bbox.MinY, bbox.MaxY)
		}
		pts[i] = geometry.Point{X: x, Y: y}
	}
	return pts, nil
}

// DistanceToBox converts the four predicted edge distances at a point
// into a box, clamped to the image when positive dimensions are given.
func DistanceToBox(pt geometry.Point, left, top, right, bottom float64, imageW, imageH int) geometry.Box {
	b := geometry.Box{
		MinX: pt.X - left,
		MinY: pt.Y - top,
		MaxX: pt.X + right,
		MaxY: pt.Y + bottom,
	}
	if imageW > 0 && imageH > 0 {
		b.MinX = geometry.Clamp(b.MinX, 0, float64(imageW-1))
		b.MinY = geometry.Clamp(b.MinY, 0, float64(imageH-1))
		b.MaxX = geometry.Clamp(b.MaxX, 0, float64(imageW-1))
		b.MaxY = geometry.Clamp(b.MaxY, 0, float64(imageH-1))
	}
	return b
}

// MaskBox returns the tight axis-aligned envelope of a decoded polygon,
// used when boxes derive from masks instead of box regression.
func MaskBox(poly []geometry.Point) geometry.Box {
	return geometry.BoundingBox(poly)
}
