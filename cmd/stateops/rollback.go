// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stateops.io/stateops/pkg/prompt"
	"stateops.io/stateops/pkg/rollback"
)

var rollbackYes bool

func init() {
	cmd := &cobra.Command{
		Use:   "rollback <environment> <versionID|latest>",
		Short: "Promote a prior version as the new current state",
		Long: `Promote a prior version as the new current state.

A backup of the current state is taken before anything is overwritten
and its identifier is printed, so there is always a recovery path.
History is never deleted: the rollback appends a new current version.`,
		Args: cobra.ExactArgs(2),
		RunE: rollbackRun,
	}
	cmd.Flags().BoolVar(&rollbackYes, "yes", false,
		"skip the interactive confirmation")
	RootCmd.AddCommand(cmd)
}

func rollbackRun(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.close()
	ctx := context.Background()

	var confirm rollback.ConfirmFunc
	if !rollbackYes {
		confirm = func(message string) (bool, error) {
			return prompt.Confirm("proceed with " + message + "? [yes/no]")
		}
	}

	result, err := svc.orchestrator.Rollback(ctx, args[0], args[1], confirm)
	if result != nil && result.PreBackupID != "" {
		fmt.Fprintf(os.Stderr, "pre-rollback backup: %s\n", result.PreBackupID)
	}
	if err != nil {
		if result != nil && result.EmergencyBackupID != "" {
			fmt.Fprintf(os.Stderr, "emergency backup: %s\n", result.EmergencyBackupID)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s to %s: new current version %s (was %s)\n",
		result.Environment, result.TargetVersionID, result.NewVersionID, result.PreviousVersionID)
	return nil
}
