// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"stateops.io/stateops/pkg/prompt"
	"stateops.io/stateops/pkg/rollback"
)

var unlockYes bool

func init() {
	cmd := &cobra.Command{
		Use:   "emergency-unlock <environment>",
		Short: "Forcibly clear the environment lock",
		Long: `Forcibly clear the environment lock.

Destructive: this bypasses the mutual exclusion that serializes state
mutations. Only use it after confirming that the operation holding the
lock is dead; this command cannot verify that for you.`,
		Args: cobra.ExactArgs(1),
		RunE: unlockRun,
	}
	cmd.Flags().BoolVar(&unlockYes, "yes", false,
		"skip the interactive confirmation")
	RootCmd.AddCommand(cmd)
}

func unlockRun(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.close()
	ctx := context.Background()

	if !unlockYes {
		ok, err := prompt.Confirm("forcibly unlock " + args[0] +
			"? confirm no other operation is running [yes/no]")
		if err != nil {
			return err
		}
		if !ok {
			return rollback.ErrAborted.New("emergency unlock of %q", args[0])
		}
	}

	if err := svc.orchestrator.EmergencyUnlock(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "lock for %s cleared\n", args[0])
	return nil
}
