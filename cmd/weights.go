package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facemotion/internal/weights"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show the most discriminative landmark pairs of the corpus",
	Long: `Load the reference corpus, derive the pair weights and list the landmark
pairs that separate the emotion prototypes best.

Examples:
  facemotion weights --top 30
  facemotion weights --gamma 1 --json`,
	Args: cobra.NoArgs,
	RunE: runWeights,
}

func init() {
	rootCmd.AddCommand(weightsCmd)

	weightsCmd.Flags().Int("top", 20, "Number of pairs to list (0 = all)")
	weightsCmd.Flags().Bool("json", false, "Output as JSON")
	addWeightFlags(weightsCmd)
}

type weightsOutput struct {
	Landmarks int            `json:"landmarks"`
	Classes   []string       `json:"classes"`
	Uniform   bool           `json:"uniform"`
	Mean      float64        `json:"mean"`
	Pairs     []weights.Pair `json:"pairs"`
}

func runWeights(cmd *cobra.Command, args []string) error {
	top := mustGetInt(cmd, "top")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	corp, w, _, err := loadReference(cfg, logger)
	if err != nil {
		return err
	}

	if top <= 0 {
		top = -1
	}
	out := weightsOutput{
		Landmarks: w.N(),
		Uniform:   w.IsUniform(),
		Mean:      w.Mean(),
		Pairs:     w.TopPairs(top),
	}
	for _, e := range corp.Classes() {
		out.Classes = append(out.Classes, string(e))
	}

	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Landmarks: %d (%d pairs)\n", out.Landmarks, out.Landmarks*(out.Landmarks-1)/2)
	fmt.Printf("Classes:   %v\n", out.Classes)
	fmt.Printf("Uniform:   %v\n", out.Uniform)
	fmt.Printf("Mean:      %.4f\n\n", out.Mean)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tI\tJ\tWEIGHT")
	fmt.Fprintln(tw, "----\t-\t-\t------")
	for i, p := range out.Pairs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%.4f\n", i+1, p.I, p.J, p.Weight)
	}
	return tw.Flush()
}
