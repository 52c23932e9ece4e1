// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"stateops.io/stateops/pkg/process"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE:  setupRun,
	})
}

func setupRun(cmd *cobra.Command, args []string) error {
	outfile := filepath.Join(process.DefaultConfigDir(), "stateops.yaml")
	if err := process.SaveConfig(RootCmd, outfile, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outfile)
	return nil
}
