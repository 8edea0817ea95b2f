package cmd

import (
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fournet/internal/common"
	"github.com/MeKo-Tech/fournet/internal/head"
	"github.com/MeKo-Tech/fournet/internal/infer"
	"github.com/MeKo-Tech/fournet/internal/visualize"
)

var inferCmd = &cobra.Command{
	Use:   "infer <image>",
	Short: "Run an ONNX head model on an image",
	Long: `Run an exported head model on an image and decode its outputs into
detections with contour polygons.

The model must expose four output tensors per pyramid level, ordered
classification, box regression, centerness, mask coefficients.

Examples:
  fournet infer --model model.onnx photo.jpg
  fournet infer --model model.onnx photo.jpg --overlay out.png`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath, _ := cmd.Flags().GetString("model")
		outPath, _ := cmd.Flags().GetString("output")
		overlayPath, _ := cmd.Flags().GetString("overlay")

		cfg := GetConfig()
		headCfg, err := cfg.Head.ToHeadConfig()
		if err != nil {
			return err
		}

		sessionCfg := cfg.Session
		if modelPath != "" {
			sessionCfg.ModelPath = modelPath
		}
		if sessionCfg.ModelPath == "" {
			return fmt.Errorf("no model path configured, use --model or the session.model_path setting")
		}
		sessionCfg.NumLevels = len(headCfg.Strides)

		h, err := head.New(headCfg, head.LossFuncs{})
		if err != nil {
			return err
		}

		session, err := infer.NewSession(sessionCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Close(); err != nil {
				slog.Warn("Failed to close session", "error", err)
			}
		}()

		img, err := imaging.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open image: %w", err)
		}

		maxStride := headCfg.Strides[len(headCfg.Strides)-1]
		prepared, err := infer.PrepareImage(img, maxStride, sessionCfg.MaxSide)
		if err != nil {
			return err
		}
		defer prepared.Release()

		slog.Debug("Running inference",
			"model", sessionCfg.ModelPath,
			"input_width", prepared.Width,
			"input_height", prepared.Height)

		timer := common.NewNamedTimer("inference")
		preds, err := session.Run(prepared)
		if err != nil {
			return err
		}

		detections, err := h.Decode(preds, prepared.Meta)
		if err != nil {
			return err
		}
		slog.Info("Inference complete",
			"detections", len(detections),
			"duration", timer.Stop().String())

		if overlayPath != "" {
			if err := visualize.SaveOverlay(img, detections, overlayPath); err != nil {
				return err
			}
			slog.Info("Overlay written", "path", overlayPath)
		}

		return writeDetections(detections, cfg.Output.Format, outPath)
	},
}

func init() {
	inferCmd.Flags().StringP("model", "m", "", "path to the ONNX model")
	inferCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	inferCmd.Flags().String("overlay", "", "write an overlay PNG to this path")

	rootCmd.AddCommand(inferCmd)
}
