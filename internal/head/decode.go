package head

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/fournet/internal/decode"
	"github.com/MeKo-Tech/fournet/internal/geometry"
	"github.com/MeKo-Tech/fournet/internal/mempool"
)

// Decode turns one image's per-level predictions into final detections:
// sigmoid scoring, per-level top-k selection, polygon and box decoding
// with image clamping, rescale to original coordinates, and NMS with
// centerness-weighted scores. When configured, boxes are the envelopes
// of the decoded polygons rather than the regression branch output.
func (h *Head) Decode(preds []LevelPrediction, meta ImageMeta) ([]decode.Detection, error) {
	if err := h.checkShapes(preds); err != nil {
		return nil, err
	}
	g, err := h.buildGrid(preds)
	if err != nil {
		return nil, err
	}

	var (
		boxes     []geometry.Box
		scoreRows [][]float64 // background column 0 + NumClasses columns
		polys     [][]geometry.Point
		factors   []float64
	)
	offset := 0
	for li := range preds {
		p := &preds[li]
		n := p.Height * p.Width
		clsRows := rowsOf(p.ClsScores, h.cfg.NumClasses)
		boxRows := rowsOf(p.BoxPreds, 4)
		maskRows := rowsOf(p.MaskPreds, h.cfg.MaskChannels())

		selected := h.selectTopK(clsRows, p.Centerness)
		for _, pi := range selected {
			pt := g.Point(offset + pi)

			row := make([]float64, h.cfg.NumClasses+1)
			for c := range h.cfg.NumClasses {
				row[c+1] = sigmoid(clsRows[pi][c])
			}
			ctr := sigmoid(p.Centerness[pi])

			dists, derr := h.decoder.Distances(maskRows[pi], false)
			if derr != nil {
				return nil, derr
			}

			var box geometry.Box
			var clampBox *geometry.Box
			if h.cfg.BoxSource == BoxFromRegression {
				r := boxRows[pi]
				box = decode.DistanceToBox(pt, r[0], r[1], r[2], r[3], meta.Width, meta.Height)
				if h.cfg.ClampMaskToBox {
					clampBox = &box
				}
			}
			poly, derr := h.decoder.Polygon(pt, dists, meta.Width, meta.Height, clampBox)
			if derr != nil {
				return nil, derr
			}
			if h.cfg.BoxSource == BoxFromMask {
				box = decode.MaskBox(poly)
			}

			boxes = append(boxes, box)
			scoreRows = append(scoreRows, row)
			polys = append(polys, poly)
			factors = append(factors, ctr+h.cfg.CenternessFactor)
		}
		offset += n
	}

	// Map back to original image coordinates.
	if meta.ScaleX > 0 && meta.ScaleY > 0 && (meta.ScaleX != 1 || meta.ScaleY != 1) {
		for i := range boxes {
			boxes[i].MinX /= meta.ScaleX
			boxes[i].MaxX /= meta.ScaleX
			boxes[i].MinY /= meta.ScaleY
			boxes[i].MaxY /= meta.ScaleY
			for j := range polys[i] {
				polys[i][j].X /= meta.ScaleX
				polys[i][j].Y /= meta.ScaleY
			}
		}
	}

	if h.cfg.MaskNMS {
		for i := range boxes {
			boxes[i] = decode.MaskBox(polys[i])
		}
	}

	dets := h.nms(boxes, scoreRows, polys, factors, decode.NMSConfig{
		ScoreThreshold: h.cfg.ScoreThreshold,
		IoUThreshold:   h.cfg.IoUThreshold,
		MaxDetections:  h.cfg.MaxDetections,
	})
	if h.visualize != nil {
		h.visualize(meta, dets)
	}
	return dets, nil
}

// selectTopK returns the point indices of one level that survive
// pre-NMS selection: the TopK highest max-class scores weighted by
// centerness, or every index when TopK is 0 or not exceeded.
func (h *Head) selectTopK(clsRows [][]float64, ctrLogits []float64) []int {
	n := len(clsRows)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if h.cfg.TopK <= 0 || n <= h.cfg.TopK {
		return idx
	}
	ranking := mempool.GetFloat64(n)
	defer mempool.PutFloat64(ranking)
	for i := range n {
		best := math.Inf(-1)
		for c := range h.cfg.NumClasses {
			if s := sigmoid(clsRows[i][c]); s > best {
				best = s
			}
		}
		ranking[i] = best * sigmoid(ctrLogits[i])
	}
	sort.SliceStable(idx, func(a, b int) bool { return ranking[idx[a]] > ranking[idx[b]] })
	idx = idx[:h.cfg.TopK]
	// Keep downstream output ordering deterministic and level-local.
	sort.Ints(idx)
	return idx
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
