package infer

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/fournet/internal/head"
	"github.com/MeKo-Tech/fournet/internal/mempool"
)

// PreparedImage is a network input tensor together with the metadata
// needed to map detections back to original image coordinates.
type PreparedImage struct {
	Data   []float32 // NCHW [1, 3, Height, Width], values in [0, 1]
	Width  int
	Height int
	Meta   head.ImageMeta
}

// Release returns the tensor buffer to the pool. The PreparedImage
// must not be used afterwards.
func (p *PreparedImage) Release() {
	if p.Data != nil {
		mempool.PutFloat32(p.Data)
		p.Data = nil
	}
}

// PrepareImage resizes an image so both sides are multiples of the
// coarsest stride and normalizes it into an NCHW float32 tensor.
// maxSide caps the longer side before stride alignment; zero disables
// the cap.
func PrepareImage(img image.Image, maxStride, maxSide int) (*PreparedImage, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if maxStride <= 0 {
		return nil, fmt.Errorf("max stride must be positive, got %d", maxStride)
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()
	if origW <= 0 || origH <= 0 {
		return nil, errors.New("invalid image dimensions")
	}

	scale := 1.0
	if maxSide > 0 {
		longer := max(origW, origH)
		if longer > maxSide {
			scale = float64(maxSide) / float64(longer)
		}
	}

	width := alignToStride(float64(origW)*scale, maxStride)
	height := alignToStride(float64(origH)*scale, maxStride)

	resized := img
	if width != origW || height != origH {
		resized = imaging.Resize(img, width, height, imaging.Linear)
	}

	data, err := normalizeNCHW(resized)
	if err != nil {
		return nil, err
	}

	return &PreparedImage{
		Data:   data,
		Width:  width,
		Height: height,
		Meta: head.ImageMeta{
			Width:  width,
			Height: height,
			ScaleX: float64(width) / float64(origW),
			ScaleY: float64(height) / float64(origH),
		},
	}, nil
}

func alignToStride(v float64, stride int) int {
	aligned := int(math.Round(v/float64(stride))) * stride
	if aligned < stride {
		aligned = stride
	}
	return aligned
}

// normalizeNCHW converts an image to a pooled NCHW float32 tensor with
// channels scaled to [0, 1].
func normalizeNCHW(img image.Image) ([]float32, error) {
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	plane := width * height
	data := mempool.GetFloat32(3 * plane)

	for y := range height {
		for x := range width {
			r, g, b, _ := nrgba.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			idx := y*width + x
			data[idx] = float32(r>>8) / 255.0
			data[plane+idx] = float32(g>>8) / 255.0
			data[2*plane+idx] = float32(b>>8) / 255.0
		}
	}
	return data, nil
}
