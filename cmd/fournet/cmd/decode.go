package cmd

import (
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fournet/internal/common"
	"github.com/MeKo-Tech/fournet/internal/head"
	"github.com/MeKo-Tech/fournet/internal/visualize"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <predictions.json>",
	Short: "Decode raw head outputs into detections",
	Long: `Decode per-level head output tensors into scored detections with
contour polygons.

The prediction file carries the image size, optional rescale factors,
and one flattened tensor set per pyramid level. Results are written as
JSON or CSV; an overlay image can be rendered when the source image is
available.

Examples:
  fournet decode predictions.json
  fournet decode predictions.json --output detections.json
  fournet decode predictions.json --image photo.jpg --overlay out.png`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("output")
		imagePath, _ := cmd.Flags().GetString("image")
		overlayPath, _ := cmd.Flags().GetString("overlay")
		if overlayPath != "" && imagePath == "" {
			return fmt.Errorf("--overlay requires --image")
		}

		cfg := GetConfig()
		headCfg, err := cfg.Head.ToHeadConfig()
		if err != nil {
			return err
		}

		h, err := head.New(headCfg, head.LossFuncs{})
		if err != nil {
			return err
		}

		file, err := loadPredictions(args[0])
		if err != nil {
			return err
		}

		timer := common.NewNamedTimer("decode")
		detections, err := h.Decode(file.toLevelPredictions(), file.meta())
		if err != nil {
			return err
		}
		slog.Info("Decoded predictions",
			"detections", len(detections),
			"duration", timer.Stop().String())

		if overlayPath != "" {
			img, err := imaging.Open(imagePath)
			if err != nil {
				return fmt.Errorf("failed to open image: %w", err)
			}
			if err := visualize.SaveOverlay(img, detections, overlayPath); err != nil {
				return err
			}
			slog.Info("Overlay written", "path", overlayPath)
		}

		return writeDetections(detections, cfg.Output.Format, outPath)
	},
}

func init() {
	decodeCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	decodeCmd.Flags().String("image", "", "source image for overlay rendering")
	decodeCmd.Flags().String("overlay", "", "write an overlay PNG to this path")

	rootCmd.AddCommand(decodeCmd)
}
