package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mcptap/mcptap/pkg/analyzer"
)

var (
	analyzeTimeout  time.Duration
	analyzeOutput   string
	analyzeEnvPairs []string
	analyzeVerbose  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze -- <command> [args...]",
	Short: "Measure the context cost of an MCP server without a client",
	Long: `Analyze spawns the given server command, performs the MCP handshake,
enumerates its tools, prompts, and resources, and reports the estimated
token cost of holding those definitions in a model's context. The server
is torn down when the analysis completes or fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 0, "Per-step timeout (default from config, 30s)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "text", "Output format: text, json, or yaml")
	analyzeCmd.Flags().StringArrayVar(&analyzeEnvPairs, "env", nil, "Extra environment for the server (KEY=VALUE, repeatable)")
	analyzeCmd.Flags().BoolVarP(&analyzeVerbose, "verbose", "v", false, "List per-item costs in text output")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	env, err := parseEnvFlags(analyzeEnvPairs)
	if err != nil {
		return err
	}

	timeout := analyzeTimeout
	if timeout <= 0 {
		timeout = cfg.Analyze.Timeout()
	}

	analysis, err := analyzer.AnalyzeServer(cmd.Context(), analyzer.Options{
		Command: args[0],
		Args:    args[1:],
		Env:     env,
		Timeout: timeout,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	switch analyzeOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(analysis)
	case "text":
		printAnalysis(analysis, analyzeVerbose)
		return nil
	default:
		return fmt.Errorf("unknown output format %q, want text, json, or yaml", analyzeOutput)
	}
}

func printAnalysis(a *analyzer.ServerAnalysis, verbose bool) {
	fmt.Printf("Server:    %s %s\n", a.ServerName, a.ServerVersion)
	fmt.Printf("Protocol:  %s\n\n", a.ProtocolVersion)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tCOUNT\tTOKENS")
	fmt.Fprintf(w, "tools\t%d\t%d\n", a.Tools.Count, a.Tools.TotalTokens)
	fmt.Fprintf(w, "prompts\t%d\t%d\n", a.Prompts.Count, a.Prompts.TotalTokens)
	fmt.Fprintf(w, "resources\t%d\t%d\n", a.Resources.Count, a.Resources.TotalTokens)
	w.Flush()
	fmt.Printf("\nTotal context cost: %d tokens\n", a.TotalContextTokens)

	if !verbose {
		return
	}
	printItems := func(label string, cat analyzer.CategoryAnalysis) {
		if len(cat.Items) == 0 {
			return
		}
		fmt.Printf("\n%s:\n", label)
		iw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(iw, "  NAME\tSCHEMA\tTOTAL")
		for _, item := range cat.Items {
			fmt.Fprintf(iw, "  %s\t%d\t%d\n", item.Name, item.SchemaTokens, item.TotalTokens)
		}
		iw.Flush()
	}
	printItems("Tools", a.Tools)
	printItems("Prompts", a.Prompts)
	printItems("Resources", a.Resources)
}
