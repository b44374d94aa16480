package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"goron/internal/diag"
	"goron/internal/ir"
	"goron/internal/obf/options"
	"goron/internal/obf/pipeline"
)

var obfuscateCmd = &cobra.Command{
	Use:   "obfuscate [flags] <module.mir>...",
	Short: "Obfuscate serialized IR modules",
	Long:  "Run the obfuscation pipeline over serialized IR modules and write the transformed modules next to the inputs.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  obfuscateExecution,
}

func init() {
	obfuscateCmd.Flags().String("config", "", "TOML options file")
	obfuscateCmd.Flags().String("seed", "", "PRNG seed (overrides the config)")
	obfuscateCmd.Flags().Int("jobs", 0, "module-level parallelism (0 = GOMAXPROCS)")
	obfuscateCmd.Flags().Bool("timings", false, "show per-pass timing information")
	obfuscateCmd.Flags().Bool("dry-run", false, "run the pipeline but write nothing")
	obfuscateCmd.Flags().StringP("output", "o", "", "output path (single input only)")
}

func obfuscateExecution(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	seed, err := cmd.Flags().GetString("seed")
	if err != nil {
		return err
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	showTimings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return err
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if output != "" && len(args) > 1 {
		return fmt.Errorf("--output requires exactly one input module")
	}

	opts := options.Default()
	if configPath != "" {
		opts, err = options.Load(configPath)
		if err != nil {
			return err
		}
	}
	if seed != "" {
		opts.Seed = seed
	}

	mods := make([]*ir.Module, 0, len(args))
	for _, path := range args {
		m, err := ir.ReadModuleFile(path)
		if err != nil {
			return err
		}
		mods = append(mods, m)
	}

	results, err := pipeline.RunModules(context.Background(), mods, opts, jobs)
	if err != nil {
		return err
	}

	useColor := colorEnabled(cmd)
	for i, res := range results {
		printDiagnostics(cmd, res.Bag, useColor)
		if showTimings {
			fmt.Fprintf(cmd.OutOrStdout(), "%s:\n%s", res.Module.Name, timingSummary(res))
		}
		if dryRun {
			continue
		}
		outPath := output
		if outPath == "" {
			outPath = strings.TrimSuffix(args[i], ".mir") + ".obf.mir"
		}
		if err := ir.WriteModuleFile(outPath, res.Module); err != nil {
			return err
		}
	}
	return nil
}

func timingSummary(res *pipeline.Result) string {
	var sb strings.Builder
	for _, p := range res.Timing.Phases {
		fmt.Fprintf(&sb, "  %-10s %7.2f ms", p.Name, p.DurationMS)
		if p.Note != "" {
			sb.WriteString("  // " + p.Note)
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "  %-10s %7.2f ms\n", "total", res.Timing.TotalMS)
	return sb.String()
}

func colorEnabled(cmd *cobra.Command) bool {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		mode = "auto"
	}
	switch mode {
	case "on":
		return true
	case "off":
		return false
	default:
		return isTerminal(os.Stderr)
	}
}

var (
	sevErrorColor   = color.New(color.FgRed, color.Bold)
	sevWarningColor = color.New(color.FgYellow, color.Bold)
	sevInfoColor    = color.New(color.FgCyan)
)

func printDiagnostics(cmd *cobra.Command, bag *diag.Bag, useColor bool) {
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err == nil && quiet {
		return
	}
	for _, d := range bag.Items() {
		sev := d.Severity.String()
		if useColor {
			switch d.Severity {
			case diag.SevError:
				sev = sevErrorColor.Sprint(sev)
			case diag.SevWarning:
				sev = sevWarningColor.Sprint(sev)
			default:
				sev = sevInfoColor.Sprint(sev)
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s [%s] %s: %s\n", sev, d.Code, d.Pass, d.Symbol, d.Message)
	}
}
