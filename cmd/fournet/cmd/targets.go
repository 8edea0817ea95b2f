package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fournet/internal/assign"
	"github.com/MeKo-Tech/fournet/internal/grid"
)

// targetsSummary aggregates one assignment run.
type targetsSummary struct {
	NumPoints         int     `json:"num_points"`
	NumPositive       int     `json:"num_positive"`
	PositivesPerLevel []int   `json:"positives_per_level"`
	MeanCenterness    float64 `json:"mean_centerness"`
}

// targetsDump is the full per-point assignment result.
type targetsDump struct {
	Summary     targetsSummary `json:"summary"`
	Labels      []int          `json:"labels"`
	Boxes       [][4]float64   `json:"boxes"`
	Masks       [][]float64    `json:"masks"`
	Centerness  []float64      `json:"centerness"`
	InstanceIdx []int          `json:"instance_idx"`
}

var targetsCmd = &cobra.Command{
	Use:   "targets <annotations.json>",
	Short: "Assign ground-truth targets to feature-grid points",
	Long: `Assign ground-truth instances to the points of a multi-level feature
grid and report the resulting dense targets.

The annotation file carries the image size and one contour per instance.
Feature map sizes are derived from the image size and the configured
strides.

Examples:
  fournet targets annotations.json
  fournet targets annotations.json --dump --output targets.json`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		dump, _ := cmd.Flags().GetBool("dump")
		outPath, _ := cmd.Flags().GetString("output")

		cfg := GetConfig()
		headCfg, err := cfg.Head.ToHeadConfig()
		if err != nil {
			return err
		}
		if err := headCfg.Validate(); err != nil {
			return err
		}

		file, err := loadAnnotations(args[0])
		if err != nil {
			return err
		}
		instances, err := file.toInstances()
		if err != nil {
			return err
		}

		g, err := grid.New(buildLevels(file.ImageWidth, file.ImageHeight, headCfg.Strides))
		if err != nil {
			return err
		}

		assigner, err := assign.New(assign.Config{
			ContourPoints:        headCfg.ContourPoints,
			RegressRanges:        headCfg.RegressRanges,
			CenterSample:         headCfg.CenterSample,
			UseMaskCenter:        headCfg.UseMaskCenter,
			Radius:               headCfg.Radius,
			NormalizedCenterness: headCfg.NormalizedCenterness,
			Workers:              headCfg.Workers,
		})
		if err != nil {
			return err
		}

		slog.Debug("Assigning targets",
			"image", args[0],
			"points", g.NumPoints(),
			"instances", len(instances))

		targets, err := assigner.Assign(g, instances)
		if err != nil {
			return err
		}

		summary := summarize(g, targets)
		slog.Info("Targets assigned",
			"num_points", summary.NumPoints,
			"num_positive", summary.NumPositive)

		var payload any = summary
		if dump {
			masks := make([][]float64, len(targets.Masks))
			for i, m := range targets.Masks {
				masks[i] = m
			}
			payload = targetsDump{
				Summary:     summary,
				Labels:      targets.Labels,
				Boxes:       targets.Boxes,
				Masks:       masks,
				Centerness:  targets.Centerness,
				InstanceIdx: targets.InstanceIdx,
			}
		}

		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal targets: %w", err)
		}
		data = append(data, '\n')

		if outPath == "" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(outPath, data, 0o600); err != nil {
			return fmt.Errorf("failed to write targets: %w", err)
		}
		return nil
	},
}

func summarize(g *grid.Grid, targets *assign.Targets) targetsSummary {
	perLevel := make([]int, g.NumLevels())
	var ctrSum float64
	numPos := 0
	for li := range g.NumLevels() {
		begin, end := g.LevelRange(li)
		for p := begin; p < end; p++ {
			if targets.Labels[p] != 0 {
				perLevel[li]++
				numPos++
				ctrSum += targets.Centerness[p]
			}
		}
	}
	mean := 0.0
	if numPos > 0 {
		mean = ctrSum / float64(numPos)
	}
	return targetsSummary{
		NumPoints:         g.NumPoints(),
		NumPositive:       numPos,
		PositivesPerLevel: perLevel,
		MeanCenterness:    mean,
	}
}

func init() {
	targetsCmd.Flags().Bool("dump", false, "write full per-point targets instead of a summary")
	targetsCmd.Flags().StringP("output", "o", "", "output file (default stdout)")

	rootCmd.AddCommand(targetsCmd)
}
