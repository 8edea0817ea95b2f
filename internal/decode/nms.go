package decode

import (
	"sort"

	"github.com/MeKo-Tech/fournet/internal/geometry"
)

// Detection is one final inference output: a box, its class, the
// centerness-weighted score, and the decoded silhouette polygon.
type Detection struct {
	Box     geometry.Box
	Label   int // class id, 1-based
	Score   float64
	Polygon []geometry.Point
}

// NMSConfig holds the thresholds applied when filtering candidates.
type NMSConfig struct {
	ScoreThreshold float64
	IoUThreshold   float64
	MaxDetections  int // 0 = unlimited
}

// NMSFunc filters per-point candidates into detections. scores carries
// one row per candidate with an explicit background column 0; column c
// scores class c. scoreFactors optionally multiplies every row's class
// scores (the centerness weighting) and may be nil.
type NMSFunc func(boxes []geometry.Box, scores [][]float64, masks [][]geometry.Point,
	scoreFactors []float64, cfg NMSConfig) []Detection

// MulticlassNMS is the default NMSFunc: per-class greedy suppression by
// box IoU, then a global score sort capped at MaxDetections.
func MulticlassNMS(boxes []geometry.Box, scores [][]float64, masks [][]geometry.Point,
	scoreFactors []float64, cfg NMSConfig,
) []Detection {
	if len(boxes) == 0 {
		return nil
	}
	numClasses := len(scores[0])

	var out []Detection
	for c := 1; c < numClasses; c++ {
		var cand []Detection
		for i := range boxes {
			s := scores[i][c]
			if scoreFactors != nil {
				s *= scoreFactors[i]
			}
			if s <= cfg.ScoreThreshold {
				continue
			}
			cand = append(cand, Detection{Box: boxes[i], Label: c, Score: s, Polygon: masks[i]})
		}
		out = append(out, greedyNMS(cand, cfg.IoUThreshold)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if cfg.MaxDetections > 0 && len(out) > cfg.MaxDetections {
		out = out[:cfg.MaxDetections]
	}
	return out
}

// greedyNMS keeps the highest-scoring candidates, suppressing any later
// candidate whose box overlaps a kept one beyond the IoU threshold.
func greedyNMS(cand []Detection, iouThreshold float64) []Detection {
	if len(cand) <= 1 {
		return cand
	}
	sort.SliceStable(cand, func(i, j int) bool { return cand[i].Score > cand[j].Score })
	suppressed := make([]bool, len(cand))
	kept := make([]Detection, 0, len(cand))
	for i := range cand {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cand[i])
		for j := i + 1; j < len(cand); j++ {
			if suppressed[j] {
				continue
			}
			if geometry.IoU(cand[i].Box, cand[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
