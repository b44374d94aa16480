package main

import (
	"github.com/spf13/cobra"

	"goron/internal/ir"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <module.mir>",
	Short: "Print a serialized IR module as text",
	Args:  cobra.ExactArgs(1),
	RunE:  dumpExecution,
}

func dumpExecution(cmd *cobra.Command, args []string) error {
	m, err := ir.ReadModuleFile(args[0])
	if err != nil {
		return err
	}
	return ir.DumpModule(cmd.OutOrStdout(), m)
}
