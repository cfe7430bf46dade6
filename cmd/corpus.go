package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/kozaktomas/facemotion/internal/corpus"
	"github.com/kozaktomas/facemotion/internal/emotion"
	"github.com/kozaktomas/facemotion/internal/pipeline"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Build and inspect the reference corpus",
}

var corpusBuildCmd = &cobra.Command{
	Use:   "build <labeled-dir>",
	Short: "Average labeled images into per-emotion prototype matrices",
	Long: `Build the reference corpus from a directory with one sub-directory of images
per emotion (e.g. happy/, sad/, angry/). Every image goes through the same
letterbox, landmark and normalization steps used for classification; the
distance matrices of each class are averaged and written as <class>.csv.

Examples:
  facemotion corpus build ./labeled --out ./corpus
  facemotion corpus build ./labeled --detectors socket:/tmp/mesh.sock`,
	Args: cobra.ExactArgs(1),
	RunE: runCorpusBuild,
}

var corpusInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the classes, landmark count and warnings of a corpus",
	Args:  cobra.NoArgs,
	RunE:  runCorpusInspect,
}

func init() {
	rootCmd.AddCommand(corpusCmd)
	corpusCmd.AddCommand(corpusBuildCmd)
	corpusCmd.AddCommand(corpusInspectCmd)

	corpusBuildCmd.Flags().String("out", "", "Output directory (defaults to the configured corpus directory)")
}

func runCorpusBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ccfg, err := cfg.ClassifierConfig()
	if err != nil {
		return err
	}
	outDir := mustGetString(cmd, "out")
	if outDir == "" {
		outDir = cfg.Corpus.Dir
	}

	images, err := corpus.ClassImages(args[0], ccfg.Synonyms)
	if err != nil {
		return err
	}
	total := 0
	for _, paths := range images {
		total += len(paths)
	}
	if total == 0 {
		return fmt.Errorf("no labeled images found in %s", args[0])
	}

	cascade, err := openCascade(cfg, cfg.Corpus.Landmarks, logger)
	if err != nil {
		return err
	}
	defer cascade.Close()

	ex, err := pipeline.NewExtractor(cfg.PreprocessOptions(), cascade)
	if err != nil {
		return err
	}

	fmt.Printf("Building corpus from %d images in %d classes\n\n", total, len(images))
	bar := newProgressBar(total, "Extracting landmarks", "images")

	report, err := corpus.Build(cmd.Context(), ex, corpus.BuildOptions{
		InputDir:  args[0],
		OutputDir: outDir,
		Synonyms:  ccfg.Synonyms,
		Logger:    logger,
		OnImage:   func(string, error) { bar.Add(1) },
	})
	fmt.Println()
	if report != nil {
		printBuildReport(report)
	}
	if err != nil {
		return fmt.Errorf("corpus build failed: %w", err)
	}
	fmt.Printf("\nPrototypes written to %s\n", outDir)
	return nil
}

func printBuildReport(report *corpus.BuildReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tIMAGES")
	fmt.Fprintln(w, "-----\t------")
	for _, e := range emotion.All() {
		if n, ok := report.Counts[e]; ok {
			fmt.Fprintf(w, "%s\t%d\n", e, n)
		}
	}
	w.Flush()

	if len(report.Skipped) > 0 {
		fmt.Printf("\nSkipped %d images:\n", len(report.Skipped))
		for _, s := range report.Skipped {
			fmt.Printf("  %s: %v\n", s.Path, s.Err)
		}
	}
}

func runCorpusInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ccfg, err := cfg.ClassifierConfig()
	if err != nil {
		return err
	}
	corp, err := corpus.Load(cfg.Corpus.Dir, corpus.LoadOptions{
		Expected: cfg.Corpus.Landmarks,
		Synonyms: ccfg.Synonyms,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Corpus:    %s\n", cfg.Corpus.Dir)
	fmt.Printf("Landmarks: %d\n\n", corp.N())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tFILE")
	fmt.Fprintln(w, "-----\t----")
	for _, e := range corp.Classes() {
		fmt.Fprintf(w, "%s\t%s\n", e, corp.Source(e))
	}
	w.Flush()

	warnings := multierr.Errors(corp.Warnings)
	if len(warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(warnings))
		for _, warn := range warnings {
			fmt.Printf("  %v\n", warn)
		}
	}
	return nil
}
