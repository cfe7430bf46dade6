package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/pipeline"
	"github.com/kozaktomas/facemotion/internal/preprocess"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Print the facial landmarks found by the detector cascade",
	Long: `Letterbox the image, run the landmark backends in order and print the first
usable landmark set as JSON, in source, canvas and normalized coordinates.

Examples:
  facemotion detect face.jpg
  facemotion detect face.jpg --detectors http:http://localhost:8000,pigo`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

type attemptOutput struct {
	Detector string `json:"detector"`
	Faces    int    `json:"faces"`
	Error    string `json:"error,omitempty"`
}

type detectOutput struct {
	Path       string           `json:"path"`
	Detector   string           `json:"detector"`
	Attempts   []attemptOutput  `json:"attempts"`
	Landmarks  []geometry.Point `json:"landmarks"`
	Canvas     []geometry.Point `json:"canvas"`
	Normalized []geometry.Point `json:"normalized"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cascade, err := openCascade(cfg, cfg.Corpus.Landmarks, logger)
	if err != nil {
		return err
	}
	defer cascade.Close()

	ex, err := pipeline.NewExtractor(cfg.PreprocessOptions(), cascade)
	if err != nil {
		return err
	}

	img, err := preprocess.DecodeFile(args[0])
	if err != nil {
		return err
	}
	res, err := ex.Extract(cmd.Context(), img)

	out := detectOutput{Path: args[0], Detector: res.Detection.Detector}
	for _, a := range res.Detection.Attempts {
		ao := attemptOutput{Detector: a.Detector, Faces: a.Faces}
		if a.Err != nil {
			ao.Error = a.Err.Error()
		}
		out.Attempts = append(out.Attempts, ao)
	}
	if err != nil {
		_ = outputJSON(out)
		return fmt.Errorf("landmark detection failed: %w", err)
	}

	out.Landmarks = res.Source
	out.Canvas = res.Detection.Landmarks.Points()
	out.Normalized = res.Normalized.Points()
	return outputJSON(out)
}
