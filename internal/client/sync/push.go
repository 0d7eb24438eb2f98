package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/carekeeper/internal/client/api"
	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/carekeeper/internal/common"
	"github.com/dmitrijs2005/carekeeper/internal/dbx"
)

// pushBatch sends every eligible queue entry matching actions, oldest first.
// It returns true when the run must stop early (connection lost or context
// canceled); per-entry failures are recorded in result and do not abort.
func (e *Engine) pushBatch(ctx context.Context, result *models.SyncResult, actions []models.Action) bool {
	entries, err := e.queue.NextBatch(ctx, e.desc.Type, actions, e.opts.MaxAttempts, e.opts.BatchLimit)
	if err != nil {
		result.AddError(fmt.Sprintf("failed to read queue: %v", err))
		return true
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			result.AddError(err.Error())
			return true
		}
		if err := e.pushEntry(ctx, entry, result); err != nil {
			result.AddError(err.Error())
			return true
		}
	}
	return false
}

// pushEntry sends one queue entry, retrying transient failures with
// exponential backoff within the entry's remaining attempt budget. The
// error return is reserved for run-aborting conditions; everything else
// (success, parked entry, resolved conflict) is folded into result.
func (e *Engine) pushEntry(ctx context.Context, entry *models.QueueEntry, result *models.SyncResult) error {
	remaining := e.opts.MaxAttempts - entry.Attempts - 1
	if remaining < 0 {
		remaining = 0
	}

	attempt := entry.Attempts
	first := true
	err := retry.Do(ctx, newBackoff(e.opts.BackoffBase, e.opts.BackoffCap, uint64(remaining)), func(ctx context.Context) error {
		// a backoff sleep may have outlived the connection; re-probe
		// before spending another attempt
		if !first && !e.oracle.Check(ctx) {
			return common.ErrOffline
		}
		first = false
		attempt++
		err := e.dispatch(ctx, entry)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrVersionConflict) {
			return err
		}
		if errors.Is(err, common.ErrorNotFound) || !api.IsRetryable(err) {
			return err
		}
		// a transient failure may actually mean we went offline
		if !e.oracle.Check(ctx) {
			return common.ErrOffline
		}
		e.elog.Append(entry.EntityID, entry.Action, attempt, err)
		if markErr := e.queue.MarkAttempt(ctx, entry.ID, err.Error()); markErr != nil {
			e.log.Error(ctx, "failed to record attempt", "error", markErr)
		}
		e.log.Warn(ctx, "push attempt failed",
			"entity_id", entry.EntityID, "action", entry.Action,
			"attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		result.Synced++
		return nil
	case errors.Is(err, common.ErrOffline):
		return common.ErrOffline
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, common.ErrVersionConflict):
		e.resolveConflict(ctx, entry, result)
		return nil
	default:
		e.park(ctx, entry, attempt, err, result)
		return nil
	}
}

// park takes an entry out of automatic rotation after a rejection or
// exhausted retries. It stays visible in the pending list until the user
// retries or discards it.
func (e *Engine) park(ctx context.Context, entry *models.QueueEntry, attempt int, cause error, result *models.SyncResult) {
	result.Failed++
	result.AddError(fmt.Sprintf("%s %s: %v", entry.Action, entry.EntityID, cause))
	e.elog.Append(entry.EntityID, entry.Action, attempt, cause)
	if err := e.queue.Park(ctx, entry.ID, e.opts.MaxAttempts, cause.Error()); err != nil {
		e.log.Error(ctx, "failed to park queue entry", "error", err)
	}
	e.log.Warn(ctx, "mutation parked",
		"entity_id", entry.EntityID, "action", entry.Action, "error", cause)
}

func (e *Engine) dispatch(ctx context.Context, entry *models.QueueEntry) error {
	switch entry.Action {
	case models.ActionCreate:
		return e.pushCreate(ctx, entry)
	case models.ActionUpdate:
		return e.pushUpdate(ctx, entry)
	case models.ActionDelete:
		return e.pushDelete(ctx, entry)
	default:
		return fmt.Errorf("unknown queue action %q", entry.Action)
	}
}

func (e *Engine) pushCreate(ctx context.Context, entry *models.QueueEntry) error {
	created, err := e.api.Create(ctx, e.desc.Path, entry.Payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := records.NewSQLiteRepository(tx).MarkSynced(ctx, entry.EntityID, created.ID, created.Version, now); err != nil {
			return err
		}
		return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
	})
}

func (e *Engine) pushUpdate(ctx context.Context, entry *models.QueueEntry) error {
	rec, err := e.records.GetByID(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	newVersion, err := e.api.Update(ctx, e.desc.Path, rec.RemoteID, entry.Payload, rec.Version)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := records.NewSQLiteRepository(tx).MarkSynced(ctx, entry.EntityID, rec.RemoteID, newVersion, now); err != nil {
			return err
		}
		return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
	})
}

func (e *Engine) pushDelete(ctx context.Context, entry *models.QueueEntry) error {
	rec, err := e.records.GetByID(ctx, entry.EntityID)
	if err != nil {
		return err
	}
	if err := e.api.Delete(ctx, e.desc.Path, rec.RemoteID); err != nil {
		return err
	}
	return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := records.NewSQLiteRepository(tx).Purge(ctx, entry.EntityID); err != nil {
			return err
		}
		return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
	})
}

// resolveConflict handles a rejected update: the server copy is fetched and
// merged with the local payload, keeping the locally-authored fields, and
// the merge is written back against the server's current version. A failed
// resolution leaves the entry queued with its attempt stamped, so the user
// can settle it manually.
func (e *Engine) resolveConflict(ctx context.Context, entry *models.QueueEntry, result *models.SyncResult) {
	result.Conflicts++

	fail := func(err error) {
		result.AddError(fmt.Sprintf("conflict on %s: %v", entry.EntityID, err))
		e.elog.Append(entry.EntityID, entry.Action, entry.Attempts+1, err)
		if markErr := e.queue.MarkAttempt(ctx, entry.ID, err.Error()); markErr != nil {
			e.log.Error(ctx, "failed to record attempt", "error", markErr)
		}
	}

	rec, err := e.records.GetByID(ctx, entry.EntityID)
	if err != nil {
		fail(err)
		return
	}
	srv, err := e.api.Get(ctx, e.desc.Path, rec.RemoteID)
	if err != nil {
		fail(err)
		return
	}
	merged, err := e.resolver.Merge(entry.Payload, srv.Fields)
	if err != nil {
		fail(err)
		return
	}
	newVersion, err := e.api.Update(ctx, e.desc.Path, rec.RemoteID, merged, srv.Version)
	if err != nil {
		fail(err)
		return
	}

	now := time.Now().UTC()
	err = dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := records.NewSQLiteRepository(tx).ApplyServer(ctx, entry.EntityID, merged, newVersion, true, now); err != nil {
			return err
		}
		return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
	})
	if err != nil {
		fail(err)
		return
	}

	result.Synced++
	e.log.Info(ctx, "version conflict auto-resolved",
		"entity_id", entry.EntityID, "version", newVersion)
}
