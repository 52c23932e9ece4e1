// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"stateops.io/stateops/pkg/backup"
	"stateops.io/stateops/pkg/process"
	"stateops.io/stateops/pkg/rollback"
	"stateops.io/stateops/pkg/statelock"
	"stateops.io/stateops/pkg/statelock/memlock"
	"stateops.io/stateops/pkg/statelock/redislock"
	"stateops.io/stateops/pkg/statestore"
	"stateops.io/stateops/pkg/statestore/boltstate"
	"stateops.io/stateops/pkg/statestore/storelogger"
	"stateops.io/stateops/pkg/workspace"
)

// RootCmd represents the base CLI command when called without any
// subcommands.
var RootCmd = &cobra.Command{
	Use:   "stateops",
	Short: "Deployment state lifecycle manager",
	Args:  cobra.OnlyValidArgs,
}

var (
	dbPath       string
	lockAddr     string
	lockTimeout  time.Duration
	environments []string
)

func init() {
	RootCmd.PersistentFlags().StringVar(&dbPath, "db",
		filepath.Join(process.DefaultConfigDir(), "state.db"),
		"path to the state database")
	RootCmd.PersistentFlags().StringVar(&lockAddr, "lock-addr", "",
		"redis address of the shared environment lock; empty uses in-process locking")
	RootCmd.PersistentFlags().DurationVar(&lockTimeout, "lock-timeout",
		rollback.DefaultLockTimeout,
		"how long to wait for the environment lock")
	RootCmd.PersistentFlags().StringSliceVar(&environments, "environments",
		workspace.DefaultEnvironments,
		"recognized environment names")
}

func main() {
	process.Execute(RootCmd)
}

// services ties the store, lock, backup manager and orchestrator
// together for one command invocation.
type services struct {
	log          *zap.Logger
	store        statestore.VersionedStore
	locks        statelock.Locker
	registry     *workspace.Registry
	backups      *backup.Manager
	orchestrator *rollback.Orchestrator
}

func openServices() (*services, error) {
	log, err := process.NewLogger()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, process.Error.Wrap(err)
	}
	bolt, err := boltstate.New(log.Named("statestore"), dbPath)
	if err != nil {
		return nil, err
	}
	store := statestore.VersionedStore(storelogger.New(log.Named("store"), bolt))

	var locks statelock.Locker
	if lockAddr != "" {
		if strings.HasPrefix(lockAddr, "redis://") {
			locks, err = redislock.NewClientFrom(lockAddr)
		} else {
			locks, err = redislock.NewClient(lockAddr, "", 0)
		}
		if err != nil {
			return nil, errs.Combine(err, store.Close())
		}
	} else {
		locks = memlock.New()
	}

	holder := holderIdentity()
	registry := workspace.NewRegistry(environments...)
	backups := backup.NewManager(log.Named("backup"), store, holder)
	orchestrator := rollback.NewOrchestrator(log.Named("rollback"),
		registry, store, locks, backups, holder, lockTimeout)

	return &services{
		log:          log,
		store:        store,
		locks:        locks,
		registry:     registry,
		backups:      backups,
		orchestrator: orchestrator,
	}, nil
}

func (svc *services) close() {
	if err := errs.Combine(svc.locks.Close(), svc.store.Close()); err != nil {
		svc.log.Error("close failed", zap.Error(err))
	}
	_ = svc.log.Sync()
}

// holderIdentity identifies this process as a lock holder and backup
// creator: user@host:pid.
func holderIdentity() string {
	username := "unknown"
	if current, err := user.Current(); err == nil && current.Username != "" {
		username = current.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%s:%d", username, host, os.Getpid())
}
