package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facemotion/internal/emotion"
	"github.com/kozaktomas/facemotion/internal/pipeline"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <image|directory>...",
	Short: "Classify the facial emotion in images",
	Long: `Run every image through the landmark cascade and score its geometry against
the reference corpus. Directories are scanned recursively for images.

Examples:
  # Classify a single photo
  facemotion classify face.jpg

  # Classify a folder with 8 parallel workers and print JSON lines
  facemotion classify ./photos --concurrency 8 --json

  # Use DeepFace as auxiliary prior, but only for overrides
  facemotion classify ./photos --prior deepface --no-blend

  # Sharper weighting: keep the top 10% of pairs
  facemotion classify ./photos --gamma 3 --top-percent 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().Bool("json", false, "Output one JSON object per image")
	classifyCmd.Flags().Int("concurrency", 4, "Number of images classified in parallel")
	classifyCmd.Flags().String("prior", "", "Auxiliary prior: none, deepface, ollama, openai, gemini (overrides FACEMOTION_PRIOR)")
	classifyCmd.Flags().Float64("lambda", 0.35, "Prior mix coefficient in [0, 1]")
	classifyCmd.Flags().Bool("no-blend", false, "Use the prior for overrides only, not in the softmax")
	addWeightFlags(classifyCmd)
}

type classifyOutput struct {
	RunID string `json:"run_id"`
	pipeline.Outcome
	Error string `json:"error,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	concurrency := mustGetInt(cmd, "concurrency")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	paths, err := collectImages(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no images found")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	p, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	runID := uuid.New().String()
	logger.Infow("classifying", "run_id", runID, "images", len(paths), "concurrency", concurrency)

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = newProgressBar(len(paths), "Classifying", "images")
	}
	outcomes := p.ClassifyBatch(ctx, paths, concurrency, func(pipeline.Outcome) {
		if bar != nil {
			bar.Add(1)
		}
	})

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		for _, o := range outcomes {
			out := classifyOutput{RunID: runID, Outcome: o}
			if o.Err != nil {
				out.Error = o.Err.Error()
			}
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encoding JSON output: %w", err)
			}
		}
	} else {
		fmt.Println()
		printOutcomes(outcomes)
		printSummary(runID, outcomes)
	}

	if failed := countFailed(outcomes); failed == len(outcomes) {
		return fmt.Errorf("all %d images failed", failed)
	}
	return nil
}

func printOutcomes(outcomes []pipeline.Outcome) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tLABEL\tSTRENGTH\tMARGIN\tRUNNER-UP\tSTAGE\tDETECTOR")
	fmt.Fprintln(w, "-----\t-----\t--------\t------\t---------\t-----\t--------")

	for _, o := range outcomes {
		if o.Result == nil {
			msg := "-"
			if o.Err != nil {
				msg = "error: " + o.Err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t\t\t\t%s\t%s\n", o.Path, msg, o.Stage, o.Detector)
			continue
		}
		r := o.Result
		label := string(r.Label)
		if r.Override != nil {
			label += " (" + r.Override.Rule + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%+.3f\t%s\t%s\t%s\n",
			o.Path, label, r.Strength, r.Margin, r.RunnerUp, o.Stage, o.Detector)
	}
	w.Flush()
}

func printSummary(runID string, outcomes []pipeline.Outcome) {
	counts := make(map[emotion.Emotion]int)
	var noFace, overridden int
	for _, o := range outcomes {
		switch {
		case o.Stage == pipeline.NoFaceDetected:
			noFace++
		case o.Result != nil:
			counts[o.Result.Label]++
			if o.Result.Overridden() {
				overridden++
			}
		}
	}

	fmt.Printf("\nRun %s: %d images\n", runID, len(outcomes))
	for _, e := range emotion.All() {
		if counts[e] > 0 {
			fmt.Printf("  %-10s %d\n", e, counts[e])
		}
	}
	fmt.Printf("  Overridden: %d\n", overridden)
	fmt.Printf("  No face:    %d\n", noFace)
	fmt.Printf("  Failed:     %d\n", countFailed(outcomes))
}

func countFailed(outcomes []pipeline.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
