package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "facemotion",
	Short: "Classify facial emotions from landmark geometry",
	Long: `facemotion extracts facial landmarks from images, normalizes their geometry
and classifies the depicted emotion against per-emotion reference shapes,
optionally blended with an auxiliary emotion classifier.

Configuration is read from the environment (and an optional .env file);
flags override it.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("corpus", "", "Reference corpus directory (overrides FACEMOTION_CORPUS_DIR)")
	rootCmd.PersistentFlags().String("detectors", "", "Landmark backend cascade, e.g. socket:/tmp/mesh.sock,pigo (overrides FACEMOTION_DETECTORS)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides FACEMOTION_LOG_LEVEL)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
