// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var verifyMaxAge time.Duration

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "list-backups <environment>",
		Short: "List the backups of an environment, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  listBackupsRun,
	})
	RootCmd.AddCommand(&cobra.Command{
		Use:   "create-backup <environment> [reason]",
		Short: "Snapshot the current state of an environment",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  createBackupRun,
	})

	verifyCmd := &cobra.Command{
		Use:   "verify-backup <environment>",
		Short: "Check that the newest backup parses and is fresh",
		Args:  cobra.ExactArgs(1),
		RunE:  verifyBackupRun,
	}
	verifyCmd.Flags().DurationVar(&verifyMaxAge, "max-age", 24*time.Hour,
		"oldest acceptable newest backup; 0 disables the staleness check")
	RootCmd.AddCommand(verifyCmd)
}

func listBackupsRun(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.close()
	ctx := context.Background()

	ws, err := svc.registry.Resolve(args[0])
	if err != nil {
		return err
	}
	backups, err := svc.backups.ListBackups(ctx, ws)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "BACKUP\tCREATED\tCREATOR\tSIZE\tREASON")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			b.ID, b.CreatedAt.Format(time.RFC3339), b.Creator, b.Size, b.Reason)
	}
	return w.Flush()
}

func createBackupRun(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.close()
	ctx := context.Background()

	reason := "manual"
	if len(args) > 1 {
		reason = args[1]
	}

	ws, err := svc.registry.Resolve(args[0])
	if err != nil {
		return err
	}
	created, err := svc.backups.CreateBackup(ctx, ws, reason)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created backup %s of %s\n", created.ID, args[0])
	return nil
}

func verifyBackupRun(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.close()
	ctx := context.Background()

	ws, err := svc.registry.Resolve(args[0])
	if err != nil {
		return err
	}
	verified, err := svc.backups.VerifyBackup(ctx, ws, verifyMaxAge)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "backup %s of %s verified (created %s)\n",
		verified.ID, args[0], verified.CreatedAt.Format(time.RFC3339))
	return nil
}
