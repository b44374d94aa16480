// Package main implements the goron CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"goron/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "goron",
	Short: "Goron IR obfuscation toolchain",
	Long:  `Goron hardens compiled modules against static analysis: secret threading, indirect branches, string encryption.`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(obfuscateCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
