package head

import (
	"fmt"

	"github.com/MeKo-Tech/fournet/internal/assign"
	"github.com/MeKo-Tech/fournet/internal/decode"
	"github.com/MeKo-Tech/fournet/internal/fourier"
	"github.com/MeKo-Tech/fournet/internal/geometry"
)

// ComputeLoss assigns targets for every image in the batch and reduces
// predictions against them with the pluggable loss callables.
//
// preds is indexed [image][level]; gts [image]. All images must share
// level sizes. Zero ground truth or zero positive assignments are not
// errors: the classification loss is still defined (its averaging
// factor includes the image count) and the remaining losses are zero.
func (h *Head) ComputeLoss(preds [][]LevelPrediction, gts [][]assign.Instance) (Losses, error) {
	if err := h.checkLossFuncs(); err != nil {
		return Losses{}, err
	}
	if len(preds) == 0 {
		return Losses{}, fmt.Errorf("head: empty batch")
	}
	if len(preds) != len(gts) {
		return Losses{}, fmt.Errorf("head: %d prediction images but %d ground-truth images", len(preds), len(gts))
	}
	for img := range preds {
		if err := h.checkShapes(preds[img]); err != nil {
			return Losses{}, err
		}
		for li := range preds[img] {
			if preds[img][li].Height != preds[0][li].Height || preds[img][li].Width != preds[0][li].Width {
				return Losses{}, fmt.Errorf("head: image %d level %d size differs from image 0", img, li)
			}
		}
	}

	g, err := h.buildGrid(preds[0])
	if err != nil {
		return Losses{}, err
	}
	numImgs := len(preds)
	numPoints := g.NumPoints()

	// Flattened across images, point-major.
	var (
		clsRows    [][]float64
		boxRows    [][]float64
		maskRows   [][]float64
		ctrLogits  []float64
		labels     []int
		boxTargets [][]float64
		maskSigs   [][]float64
		ctrTargets []float64
		points     []geometry.Point
	)
	for img := range preds {
		targets, err := h.assigner.Assign(g, gts[img])
		if err != nil {
			return Losses{}, err
		}
		for li := range preds[img] {
			p := &preds[img][li]
			clsRows = append(clsRows, rowsOf(p.ClsScores, h.cfg.NumClasses)...)
			boxRows = append(boxRows, rowsOf(p.BoxPreds, 4)...)
			maskRows = append(maskRows, rowsOf(p.MaskPreds, h.cfg.MaskChannels())...)
			ctrLogits = append(ctrLogits, p.Centerness...)
		}
		labels = append(labels, targets.Labels...)
		ctrTargets = append(ctrTargets, targets.Centerness...)
		for p := range numPoints {
			boxTargets = append(boxTargets, targets.Boxes[p][:])
			maskSigs = append(maskSigs, targets.Masks[p])
		}
		points = append(points, g.Points()...)
	}

	var posInds []int
	for i, l := range labels {
		if l != 0 {
			posInds = append(posInds, i)
		}
	}
	numPos := len(posInds)

	out := Losses{NumPositive: numPos}
	// The +numImgs offset keeps the average defined when numPos is 0.
	out.Cls = h.losses.Classification(clsRows, labels, float64(numPos+numImgs))
	if numPos == 0 {
		return out, nil
	}

	posBoxes, posBoxTargets, err := h.positiveBoxes(posInds, points, boxRows, maskRows, boxTargets)
	if err != nil {
		return Losses{}, err
	}
	weights := make([]float64, numPos)
	weightSum := 0.0
	for i, p := range posInds {
		weights[i] = ctrTargets[p]
		weightSum += ctrTargets[p]
	}
	out.Box = h.losses.Box(posBoxes, posBoxTargets, weights, weightSum)

	posMaskPreds, posMaskTargets, err := h.positiveMasks(posInds, maskRows, maskSigs)
	if err != nil {
		return Losses{}, err
	}
	if h.cfg.LossOnCoefficients {
		out.Mask = h.losses.Mask(posMaskPreds, posMaskTargets, nil, float64(numPos))
	} else {
		out.Mask = h.losses.Mask(posMaskPreds, posMaskTargets, weights, weightSum)
	}

	posCtrLogits := make([]float64, numPos)
	posCtrTargets := make([]float64, numPos)
	for i, p := range posInds {
		posCtrLogits[i] = ctrLogits[p]
		posCtrTargets[i] = ctrTargets[p]
	}
	out.Centerness = h.losses.Centerness(posCtrLogits, posCtrTargets)

	return out, nil
}

// positiveBoxes decodes predicted and target edge distances of positive
// points into corner-form boxes so the box loss operates in IoU space.
func (h *Head) positiveBoxes(posInds []int, points []geometry.Point,
	boxRows, maskRows [][]float64, boxTargets [][]float64,
) (preds, targets [][]float64, err error) {
	preds = make([][]float64, len(posInds))
	targets = make([][]float64, len(posInds))
	for i, p := range posInds {
		pt := points[p]
		var b geometry.Box
		if h.cfg.BoxSource == BoxFromMask {
			dists, derr := h.decoder.Distances(maskRows[p], true)
			if derr != nil {
				return nil, nil, derr
			}
			poly, derr := h.decoder.Polygon(pt, dists, 0, 0, nil)
			if derr != nil {
				return nil, nil, derr
			}
			b = decode.MaskBox(poly)
		} else {
			r := boxRows[p]
			b = decode.DistanceToBox(pt, r[0], r[1], r[2], r[3], 0, 0)
		}
		preds[i] = []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}

		tr := boxTargets[p]
		tb := decode.DistanceToBox(pt, tr[0], tr[1], tr[2], tr[3], 0, 0)
		targets[i] = []float64{tb.MinX, tb.MinY, tb.MaxX, tb.MaxY}
	}
	return preds, targets, nil
}

// positiveMasks prepares the mask-loss operands for positive points in
// the configured domain: distance signals, or truncated coefficient
// pairs when the loss runs on coefficients.
func (h *Head) positiveMasks(posInds []int, maskRows, maskSigs [][]float64) (preds, targets [][]float64, err error) {
	preds = make([][]float64, len(posInds))
	targets = make([][]float64, len(posInds))
	for i, p := range posInds {
		if h.cfg.LossOnCoefficients {
			preds[i] = maskRows[p]
			coeffs, cerr := h.codec.Forward(maskSigs[p])
			if cerr != nil {
				return nil, nil, cerr
			}
			targets[i] = fourier.ComplexToPairs(coeffs)
			continue
		}
		if h.cfg.Representation == RepresentationFourier {
			dists, derr := h.decoder.Distances(maskRows[p], true)
			if derr != nil {
				return nil, nil, derr
			}
			preds[i] = dists
		} else {
			preds[i] = maskRows[p]
		}
		targets[i] = maskSigs[p]
	}
	return preds, targets, nil
}

func (h *Head) checkLossFuncs() error {
	if h.losses.Classification == nil || h.losses.Box == nil ||
		h.losses.Mask == nil || h.losses.Centerness == nil {
		return fmt.Errorf("head: all four loss callables must be set for ComputeLoss")
	}
	return nil
}

// rowsOf views a flat point-major tensor as per-point rows without copying.
func rowsOf(data []float64, ch int) [][]float64 {
	n := len(data) / ch
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = data[i*ch : (i+1)*ch]
	}
	return rows
}
