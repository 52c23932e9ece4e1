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

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "versions <environment>",
		Short: "List the version history of an environment, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  versionsRun,
	})
	RootCmd.AddCommand(&cobra.Command{
		Use:   "status <environment>",
		Short: "Show the current version and lock holder of an environment",
		Args:  cobra.ExactArgs(1),
		RunE:  statusRun,
	})
}

func versionsRun(cmd *cobra.Command, args []string) error {
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
	versions, err := svc.store.ListVersions(ctx, ws.BlobKey)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tSIZE\tCURRENT")
	for _, version := range versions {
		current := ""
		if version.Current {
			current = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			version.ID, version.CreatedAt.Format(time.RFC3339), version.Size, current)
	}
	return w.Flush()
}

func statusRun(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.close()
	ctx := context.Background()

	version, lock, err := svc.orchestrator.Status(ctx, args[0])
	if err != nil {
		return err
	}

	if version == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "environment %s has no state\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "current version: %s (created %s, %d bytes)\n",
			version.ID, version.CreatedAt.Format(time.RFC3339), version.Size)
	}
	if lock == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "lock: free")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "lock: held by %s since %s\n",
			lock.Holder, lock.AcquiredAt.Format(time.RFC3339))
	}
	return nil
}
