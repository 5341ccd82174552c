package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/ppiankov/axiom/internal/agent"
	"github.com/spf13/cobra"
)

var (
	extractDomain string
	extractJSON   bool
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "List the claims found in a response without verifying them",
	Long: `Extract runs only claim extraction and prints each claim with its kind
and severity. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		response, err := responseSource{file: args[0]}.read(ctx, cfg, cmd.InOrStdin())
		if err != nil {
			return err
		}

		eng, err := buildEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		claims, err := eng.pipeline.Extract(ctx, response, domainOrDefault(extractDomain, cfg))
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}

		out := cmd.OutOrStdout()
		if extractJSON {
			return writeJSON(out, map[string]any{"claims": claims})
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tSEVERITY\tTEXT")
		for _, c := range claims {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Kind, c.Severity, oneLine(c.Text, 80))
		}
		return tw.Flush()
	},
}

// agentsCmd represents the agents command
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the registered verifiers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := buildEngine(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tWEIGHT\tSPECIALTY")
		for _, v := range eng.pipeline.Registry().Verifiers() {
			specialty := ""
			if d, ok := v.(agent.Describer); ok {
				specialty = d.Specialty()
			}
			weight, ok := cfg.Risk.Weights[v.Name()]
			if !ok {
				weight = cfg.Risk.DefaultWeight
			}
			fmt.Fprintf(tw, "%s\t%.2f\t%s\n", v.Name(), weight, specialty)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(agentsCmd)

	extractCmd.Flags().StringVarP(&extractDomain, "domain", "d", "", "domain tag (default from config)")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print claims as JSON")
}
