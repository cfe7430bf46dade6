package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/facemotion/internal/classifier"
	"github.com/kozaktomas/facemotion/internal/config"
	"github.com/kozaktomas/facemotion/internal/corpus"
	"github.com/kozaktomas/facemotion/internal/detector"
	"github.com/kozaktomas/facemotion/internal/logging"
	"github.com/kozaktomas/facemotion/internal/pipeline"
	"github.com/kozaktomas/facemotion/internal/preprocess"
	"github.com/kozaktomas/facemotion/internal/prior"
	"github.com/kozaktomas/facemotion/internal/weights"
)

// flagChanged reports whether the command defines name and the user set it.
func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

// addWeightFlags registers the weighting overrides shared by classify and weights.
func addWeightFlags(cmd *cobra.Command) {
	cmd.Flags().String("weighting", "", "Pair weighting mode: variance or none")
	cmd.Flags().Float64("gamma", 0, "Amplification exponent for normalized variances (>= 1)")
	cmd.Flags().Float64("top-percent", 0, "Keep full weight only for the top P% of pairs (0 = off)")
	cmd.Flags().Float64("floor", 0, "Weight of pairs outside the top P%")
}

// loadConfig reads the environment configuration, applies the flags the command
// defines and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if v := mustGetString(cmd, "corpus"); v != "" {
		cfg.Corpus.Dir = v
	}
	if v := mustGetString(cmd, "detectors"); v != "" {
		cfg.Detectors.Backends = v
	}
	if v := mustGetString(cmd, "log-level"); v != "" {
		cfg.Log.Level = v
	}

	if flagChanged(cmd, "weighting") {
		cfg.Weights.Mode = mustGetString(cmd, "weighting")
	}
	if flagChanged(cmd, "gamma") {
		cfg.Weights.Gamma = mustGetFloat64(cmd, "gamma")
	}
	if flagChanged(cmd, "top-percent") {
		cfg.Weights.TopPercent = mustGetFloat64(cmd, "top-percent")
	}
	if flagChanged(cmd, "floor") {
		cfg.Weights.Floor = mustGetFloat64(cmd, "floor")
	}
	if flagChanged(cmd, "prior") {
		cfg.Prior.Provider = mustGetString(cmd, "prior")
	}
	if flagChanged(cmd, "lambda") {
		cfg.Scoring.Lambda = mustGetFloat64(cmd, "lambda")
	}
	if flagChanged(cmd, "no-blend") && mustGetBool(cmd, "no-blend") {
		cfg.Scoring.Blend = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.JSON)
}

// loadReference loads the prototypes and derives the pair weights from them.
func loadReference(cfg *config.Config, logger *zap.SugaredLogger) (*corpus.Corpus, weights.Matrix, classifier.Config, error) {
	ccfg, err := cfg.ClassifierConfig()
	if err != nil {
		return nil, weights.Matrix{}, classifier.Config{}, err
	}
	corp, err := corpus.Load(cfg.Corpus.Dir, corpus.LoadOptions{
		Expected: cfg.Corpus.Landmarks,
		Synonyms: ccfg.Synonyms,
		Logger:   logger,
	})
	if err != nil {
		return nil, weights.Matrix{}, classifier.Config{}, fmt.Errorf("failed to load reference corpus: %w", err)
	}
	wopts, err := cfg.WeightOptions()
	if err != nil {
		return nil, weights.Matrix{}, classifier.Config{}, err
	}
	w, err := weights.FromCorpus(corp, wopts)
	if err != nil {
		return nil, weights.Matrix{}, classifier.Config{}, fmt.Errorf("failed to build weights: %w", err)
	}
	return corp, w, ccfg, nil
}

// openCascade opens the configured landmark backends. expected is the landmark count
// faces must have; 0 accepts any.
func openCascade(cfg *config.Config, expected int, logger *zap.SugaredLogger) (*detector.Cascade, error) {
	specs, opts, err := cfg.DetectorOptions()
	if err != nil {
		return nil, err
	}
	backends, err := detector.Open(specs, opts)
	if err != nil {
		return nil, err
	}
	cascade, err := detector.NewCascade(backends, expected, logger)
	if err != nil {
		for _, b := range backends {
			_ = b.Close()
		}
		return nil, err
	}
	return cascade, nil
}

// buildPipeline performs the run-scoped initialization: corpus, weights, scorer,
// detectors and the optional prior provider. The returned func releases the detectors.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*pipeline.Pipeline, func(), error) {
	corp, w, ccfg, err := loadReference(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	scorer, err := classifier.NewScorer(corp, w, ccfg)
	if err != nil {
		return nil, nil, err
	}

	provider, err := prior.New(ctx, cfg.PriorOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prior provider: %w", err)
	}

	cascade, err := openCascade(cfg, corp.N(), logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := cascade.Close(); err != nil {
			logger.Warnw("failed to close detectors", "error", err)
		}
	}

	p, err := pipeline.New(pipeline.Options{
		Preprocess: cfg.PreprocessOptions(),
		Cascade:    cascade,
		Scorer:     scorer,
		Prior:      provider,
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Infow("pipeline ready",
		"classes", len(corp.Classes()),
		"landmarks", corp.N(),
		"detectors", cascade.Names(),
		"prior", cfg.Prior.Provider,
		"uniform_weights", w.IsUniform(),
	)
	return p, cleanup, nil
}

// collectImages expands directories into the image files they contain. Explicit file
// arguments are kept as given.
func collectImages(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && preprocess.IsImageFile(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", arg, err)
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	return paths, nil
}

func newProgressBar(total int, description, unit string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}
