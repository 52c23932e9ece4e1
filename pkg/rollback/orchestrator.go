// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package rollback drives the state machine that restores a prior
// version of an environment's deployment state: resolve, acquire the
// lock, back up current state, fetch and validate the target, promote
// it, verify the result, and always release the lock. Every failure
// path leaves behind an operator-visible backup identifier instead of
// discarding forensic state.
package rollback

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"stateops.io/stateops/pkg/backup"
	"stateops.io/stateops/pkg/statefmt"
	"stateops.io/stateops/pkg/statelock"
	"stateops.io/stateops/pkg/statestore"
	"stateops.io/stateops/pkg/workspace"
)

var (
	mon = monkit.Package()

	// Error is the default rollback error class.
	Error = errs.Class("rollback error")

	// ErrConflictingOperation is returned when another operation holds
	// the environment lock. Never retried automatically; waiting or
	// retrying is an operator decision.
	ErrConflictingOperation = errs.Class("conflicting operation")

	// ErrCorruptTargetVersion is returned when the fetched target does
	// not parse under the descriptor grammar. Never auto-repaired.
	ErrCorruptTargetVersion = errs.Class("corrupt target version")

	// ErrPromotionFailed is returned when the store write fails
	// mid-flight. It always names an emergency backup when one could be
	// taken. Not retried: retrying a failed write against a versioned
	// store risks an ambiguous history.
	ErrPromotionFailed = errs.Class("promotion failed")

	// ErrVerificationFailed is returned when the re-read after a
	// promote does not match the validated target. Reported, never
	// silently re-attempted, to avoid infinite recovery loops.
	ErrVerificationFailed = errs.Class("verification failed")

	// ErrNoPriorVersion is returned when a latest rollback finds
	// nothing older than the current version.
	ErrNoPriorVersion = errs.Class("no prior version")

	// ErrAborted is returned when the confirmation callback declines.
	ErrAborted = errs.Class("rollback aborted")
)

// Latest asks the orchestrator to select the newest version that is not
// currently promoted.
const Latest = "latest"

// DefaultLockTimeout bounds how long a rollback waits for the lock.
const DefaultLockTimeout = 30 * time.Second

// ConfirmFunc asks for operator confirmation before the destructive
// step. A nil ConfirmFunc means the caller confirmed up front.
type ConfirmFunc func(prompt string) (bool, error)

// Result carries the identifiers an operator needs to recover from any
// outcome, successful or not.
type Result struct {
	Environment       string
	TargetVersionID   string
	PreviousVersionID string
	NewVersionID      string
	PreBackupID       string
	EmergencyBackupID string
}

// Orchestrator coordinates the store, lock and backup manager for one
// rollback at a time per environment.
type Orchestrator struct {
	log      *zap.Logger
	registry *workspace.Registry
	store    statestore.VersionedStore
	locks    statelock.Locker
	backups  *backup.Manager

	holder      string
	lockTimeout time.Duration
}

// NewOrchestrator creates an orchestrator acting as holder.
func NewOrchestrator(log *zap.Logger, registry *workspace.Registry, store statestore.VersionedStore, locks statelock.Locker, backups *backup.Manager, holder string, lockTimeout time.Duration) *Orchestrator {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Orchestrator{
		log:      log,
		registry: registry,
		store:    store,
		locks:    locks,
		backups:  backups,

		holder:      holder,
		lockTimeout: lockTimeout,
	}
}

// Rollback promotes target (a version id, or Latest) as the new current
// version of env. The returned Result is non-nil whenever identifiers
// were created along the way, including on failure.
func (orchestrator *Orchestrator) Rollback(ctx context.Context, env, target string, confirm ConfirmFunc) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	// Resolve
	ws, err := orchestrator.registry.Resolve(env)
	if err != nil {
		return nil, err
	}
	result := &Result{Environment: env}
	log := orchestrator.log.With(zap.String("environment", env))

	// Acquire
	handle, err := orchestrator.locks.Acquire(ctx, ws.LockKey, orchestrator.holder, orchestrator.lockTimeout)
	if err != nil {
		if statelock.ErrLockHeld.Has(err) {
			return result, ErrConflictingOperation.New("%q: %v", env, err)
		}
		return result, Error.Wrap(err)
	}
	defer func() {
		if relErr := orchestrator.locks.Release(ctx, handle); relErr != nil {
			// The lock outliving us is the failure mode emergency-unlock
			// exists for; report it but keep the primary error.
			log.Error("failed to release lock", zap.Error(relErr))
			err = errs.Combine(err, relErr)
		}
	}()

	// Pre-backup: fail closed before any destructive step.
	preBackup, err := orchestrator.backups.CreateBackup(ctx, ws, "pre-rollback")
	if err != nil {
		return result, err
	}
	result.PreBackupID = preBackup.ID
	log.Info("pre-rollback backup created", zap.String("backup", preBackup.ID))

	_, current, err := orchestrator.store.GetCurrent(ctx, ws.BlobKey)
	if err != nil {
		return result, Error.Wrap(err)
	}
	result.PreviousVersionID = current.ID

	// Fetch target
	targetID := target
	if target == Latest {
		targetID, err = orchestrator.selectLatest(ctx, ws, current)
		if err != nil {
			return result, err
		}
	}
	result.TargetVersionID = targetID

	blob, err := orchestrator.store.GetVersion(ctx, ws.BlobKey, targetID)
	if err != nil {
		return result, err
	}

	// Validate: an unparsable blob must never become current.
	if err := statefmt.Validate(blob.Data); err != nil {
		return result, ErrCorruptTargetVersion.New("%s of %q: %v", targetID, env, err)
	}

	if confirm != nil {
		ok, err := confirm("rollback " + env + " to " + targetID + " (pre-backup " + preBackup.ID + ")")
		if err != nil {
			return result, Error.Wrap(err)
		}
		if !ok {
			return result, ErrAborted.New("%q to %s", env, targetID)
		}
	}

	// A caller-initiated cancellation is honored up to here; once the
	// promote is issued the store call either completes or fails.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, Error.Wrap(ctxErr)
	}

	// Promote
	version, err := orchestrator.store.PutCurrent(ctx, ws.BlobKey, blob)
	if err != nil {
		emergency, backupErr := orchestrator.backups.CreateBackup(ctx, ws, "post-failure-emergency")
		if backupErr != nil {
			log.Error("emergency backup failed", zap.Error(backupErr))
			return result, ErrPromotionFailed.New("%q to %s: %v (emergency backup also failed: %v)", env, targetID, err, backupErr)
		}
		result.EmergencyBackupID = emergency.ID
		log.Error("promotion failed",
			zap.String("target", targetID),
			zap.String("emergency-backup", emergency.ID),
			zap.Error(err))
		return result, ErrPromotionFailed.New("%q to %s: %v (emergency backup %s)", env, targetID, err, emergency.ID)
	}
	result.NewVersionID = version.ID

	// Post-check: re-read and compare hashes. A read failure here is
	// treated as a verification failure rather than assumed success.
	_, verified, err := orchestrator.store.GetCurrent(ctx, ws.BlobKey)
	if err != nil {
		return result, ErrVerificationFailed.New("%q version %s: re-read failed: %v", env, version.ID, err)
	}
	if verified.Hash != blob.Hash {
		return result, ErrVerificationFailed.New("%q version %s: hash %s does not match target %s", env, verified.ID, verified.Hash, blob.Hash)
	}

	log.Info("rollback complete",
		zap.String("target", targetID),
		zap.String("previous", result.PreviousVersionID),
		zap.String("promoted", version.ID))
	return result, nil
}

// selectLatest picks the newest version in history that is not the
// current one. Rolling back to the current version is a no-op and is
// rejected; so is a latest rollback when the current content already
// equals a historical version's content, which means the environment
// is already at a rolled-back state and a second latest rollback would
// only ping-pong between versions. An explicit version id is required
// to move further back.
func (orchestrator *Orchestrator) selectLatest(ctx context.Context, ws workspace.Workspace, current statestore.Version) (string, error) {
	versions, err := orchestrator.store.ListVersions(ctx, ws.BlobKey)
	if err != nil {
		return "", Error.Wrap(err)
	}

	newest := ""
	for _, version := range versions {
		if version.ID == current.ID {
			continue
		}
		if version.Hash == current.Hash {
			return "", ErrNoPriorVersion.New("%q already matches version %s", ws.Name, version.ID)
		}
		if newest == "" {
			newest = version.ID
		}
	}
	if newest == "" {
		return "", ErrNoPriorVersion.New("%q has nothing older than current version %s", ws.Name, current.ID)
	}
	return newest, nil
}

// EmergencyUnlock unconditionally clears the environment lock. It is
// the documented remedy for a lock that outlived a crashed operation;
// the caller must have confirmed no other process is active, which this
// method cannot verify. Clearing an unheld lock succeeds.
func (orchestrator *Orchestrator) EmergencyUnlock(ctx context.Context, env string) (err error) {
	defer mon.Task()(&ctx)(&err)

	ws, err := orchestrator.registry.Resolve(env)
	if err != nil {
		return err
	}

	info, err := orchestrator.locks.Status(ctx, ws.LockKey)
	if err != nil {
		return Error.Wrap(err)
	}
	if info == nil {
		orchestrator.log.Info("emergency unlock: no lock held", zap.String("environment", env))
		return nil
	}

	orchestrator.log.Warn("emergency unlock: clearing lock",
		zap.String("environment", env),
		zap.String("holder", info.Holder),
		zap.Time("acquired", info.AcquiredAt))
	return Error.Wrap(orchestrator.locks.ForceUnlock(ctx, ws.LockKey))
}

// Status reports the current version and lock holder of env.
func (orchestrator *Orchestrator) Status(ctx context.Context, env string) (_ *statestore.Version, _ *statelock.Info, err error) {
	defer mon.Task()(&ctx)(&err)

	ws, err := orchestrator.registry.Resolve(env)
	if err != nil {
		return nil, nil, err
	}

	var version *statestore.Version
	_, current, err := orchestrator.store.GetCurrent(ctx, ws.BlobKey)
	if err == nil {
		version = &current
	} else if !statestore.ErrNotFound.Has(err) {
		return nil, nil, Error.Wrap(err)
	}

	info, err := orchestrator.locks.Status(ctx, ws.LockKey)
	if err != nil {
		return version, nil, Error.Wrap(err)
	}
	return version, info, nil
}
