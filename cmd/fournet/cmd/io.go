package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/fournet/internal/assign"
	"github.com/MeKo-Tech/fournet/internal/decode"
	"github.com/MeKo-Tech/fournet/internal/geometry"
	"github.com/MeKo-Tech/fournet/internal/grid"
	"github.com/MeKo-Tech/fournet/internal/head"
)

// annotationFile is the ground-truth input consumed by the targets
// command.
type annotationFile struct {
	ImageWidth  int                  `json:"image_width"`
	ImageHeight int                  `json:"image_height"`
	Instances   []annotationInstance `json:"instances"`
}

// annotationInstance is one labeled object. Box and center default to
// the contour's bounding box and centroid when omitted.
type annotationInstance struct {
	Label         int          `json:"label"`
	Contour       [][2]float64 `json:"contour"`
	Box           *[4]float64  `json:"box,omitempty"`
	Center        *[2]float64  `json:"center,omitempty"`
	MaxCenterness float64      `json:"max_centerness,omitempty"`
}

// predictionFile is the raw head output consumed by the decode command.
type predictionFile struct {
	ImageWidth  int               `json:"image_width"`
	ImageHeight int               `json:"image_height"`
	ScaleX      float64           `json:"scale_x,omitempty"`
	ScaleY      float64           `json:"scale_y,omitempty"`
	Levels      []predictionLevel `json:"levels"`
}

// predictionLevel carries one level's flattened point-major tensors.
type predictionLevel struct {
	Height     int       `json:"height"`
	Width      int       `json:"width"`
	ClsScores  []float64 `json:"cls_scores"`
	BoxPreds   []float64 `json:"box_preds"`
	Centerness []float64 `json:"centerness"`
	MaskPreds  []float64 `json:"mask_preds"`
}

// detectionRecord is the serialized form of one detection.
type detectionRecord struct {
	Label   int          `json:"label"`
	Score   float64      `json:"score"`
	Box     [4]float64   `json:"box"`
	Polygon [][2]float64 `json:"polygon,omitempty"`
}

func loadAnnotations(path string) (*annotationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	var file annotationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse annotations: %w", err)
	}
	if file.ImageWidth <= 0 || file.ImageHeight <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", file.ImageWidth, file.ImageHeight)
	}
	return &file, nil
}

// toInstances converts parsed annotations into assigner inputs.
func (f *annotationFile) toInstances() ([]assign.Instance, error) {
	instances := make([]assign.Instance, len(f.Instances))
	for i, a := range f.Instances {
		if a.Label <= 0 {
			return nil, fmt.Errorf("instance %d: label %d must be positive", i, a.Label)
		}
		if len(a.Contour) < 3 {
			return nil, fmt.Errorf("instance %d: contour needs at least 3 points, got %d", i, len(a.Contour))
		}
		contour := make([]geometry.Point, len(a.Contour))
		for j, p := range a.Contour {
			contour[j] = geometry.Point{X: p[0], Y: p[1]}
		}

		box := geometry.BoundingBox(contour)
		if a.Box != nil {
			box = geometry.NewBox(a.Box[0], a.Box[1], a.Box[2], a.Box[3])
		}

		center := contourCentroid(contour)
		if a.Center != nil {
			center = geometry.Point{X: a.Center[0], Y: a.Center[1]}
		}

		instances[i] = assign.Instance{
			Label:         a.Label,
			Box:           box,
			Contour:       contour,
			Center:        center,
			MaxCenterness: a.MaxCenterness,
		}
	}
	return instances, nil
}

func contourCentroid(contour []geometry.Point) geometry.Point {
	var sx, sy float64
	for _, p := range contour {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(contour))
	return geometry.Point{X: sx / n, Y: sy / n}
}

// buildLevels derives per-level feature map sizes from the image size.
func buildLevels(imageW, imageH int, strides []int) []grid.Level {
	levels := make([]grid.Level, len(strides))
	for i, s := range strides {
		levels[i] = grid.Level{
			Height: (imageH + s - 1) / s,
			Width:  (imageW + s - 1) / s,
			Stride: s,
		}
	}
	return levels
}

func loadPredictions(path string) (*predictionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read predictions: %w", err)
	}
	var file predictionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse predictions: %w", err)
	}
	if file.ImageWidth <= 0 || file.ImageHeight <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", file.ImageWidth, file.ImageHeight)
	}
	if len(file.Levels) == 0 {
		return nil, fmt.Errorf("predictions contain no levels")
	}
	return &file, nil
}

func (f *predictionFile) toLevelPredictions() []head.LevelPrediction {
	preds := make([]head.LevelPrediction, len(f.Levels))
	for i, l := range f.Levels {
		preds[i] = head.LevelPrediction{
			Height:     l.Height,
			Width:      l.Width,
			ClsScores:  l.ClsScores,
			BoxPreds:   l.BoxPreds,
			Centerness: l.Centerness,
			MaskPreds:  l.MaskPreds,
		}
	}
	return preds
}

func (f *predictionFile) meta() head.ImageMeta {
	return head.ImageMeta{
		Width:  f.ImageWidth,
		Height: f.ImageHeight,
		ScaleX: f.ScaleX,
		ScaleY: f.ScaleY,
	}
}

func toRecords(detections []decode.Detection) []detectionRecord {
	records := make([]detectionRecord, len(detections))
	for i, d := range detections {
		rec := detectionRecord{
			Label: d.Label,
			Score: d.Score,
			Box:   [4]float64{d.Box.MinX, d.Box.MinY, d.Box.MaxX, d.Box.MaxY},
		}
		if len(d.Polygon) > 0 {
			rec.Polygon = make([][2]float64, len(d.Polygon))
			for j, p := range d.Polygon {
				rec.Polygon[j] = [2]float64{p.X, p.Y}
			}
		}
		records[i] = rec
	}
	return records
}

// writeDetections serializes detections in the requested format to
// path, or stdout when path is empty.
func writeDetections(detections []decode.Detection, format, path string) error {
	records := toRecords(detections)

	var out []byte
	switch format {
	case "json":
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal detections: %w", err)
		}
		out = append(data, '\n')
	case "csv":
		var b strings.Builder
		b.WriteString("label,score,min_x,min_y,max_x,max_y\n")
		for _, r := range records {
			b.WriteString(strconv.Itoa(r.Label))
			for _, v := range []float64{r.Score, r.Box[0], r.Box[1], r.Box[2], r.Box[3]} {
				b.WriteByte(',')
				b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
			}
			b.WriteByte('\n')
		}
		out = []byte(b.String())
	default:
		return fmt.Errorf("invalid output format %q", format)
	}

	if path == "" {
		_, err := os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("failed to write detections: %w", err)
	}
	return nil
}
