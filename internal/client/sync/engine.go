package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/carekeeper/internal/client/api"
	"github.com/dmitrijs2005/carekeeper/internal/client/entity"
	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/carekeeper/internal/common"
	"github.com/dmitrijs2005/carekeeper/internal/dbx"
	"github.com/dmitrijs2005/carekeeper/internal/logging"
)

// DefaultBatchLimit bounds how many queue entries a single run sends per
// push phase.
const DefaultBatchLimit = 50

// Options tunes one engine's retry and batching behavior. Zero values fall
// back to package defaults.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	BatchLimit  int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.BatchLimit <= 0 {
		o.BatchLimit = DefaultBatchLimit
	}
	return o
}

// Engine synchronizes one entity type between the local store and the
// server. A run pushes pending deletes, then pending creates and updates,
// then pulls the authoritative collection. At most one run is in flight per
// engine; concurrent callers get common.ErrSyncInProgress.
type Engine struct {
	desc     entity.Descriptor
	db       *sql.DB
	queue    queue.Repository
	records  records.Repository
	meta     metadata.Repository
	api      api.Client
	oracle   Oracle
	resolver *Resolver
	elog     *ErrorLog
	log      logging.Logger
	opts     Options

	running atomic.Bool
}

func NewEngine(desc entity.Descriptor, db *sql.DB, apiClient api.Client, oracle Oracle, log logging.Logger, opts Options) *Engine {
	return &Engine{
		desc:     desc,
		db:       db,
		queue:    queue.NewSQLiteRepository(db),
		records:  records.NewSQLiteRepository(db),
		meta:     metadata.NewSQLiteRepository(db),
		api:      apiClient,
		oracle:   oracle,
		resolver: NewResolver(desc),
		elog:     NewErrorLog(DefaultErrorLogCapacity),
		log:      log.With("entity", desc.Type),
		opts:     opts.withDefaults(),
	}
}

// Sync runs one full push+pull cycle for the engine's entity type. The
// scope narrows the pull, e.g. {"patient_id": "p1"}. Sync never returns an
// error for per-entry failures; those are reflected in the result. The
// error return covers run-level refusals only.
func (e *Engine) Sync(ctx context.Context, scope map[string]string) (*models.SyncResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, common.ErrSyncInProgress
	}
	defer e.running.Store(false)

	result := &models.SyncResult{}

	if !e.oracle.Check(ctx) {
		result.AddError(common.ErrOffline.Error())
		e.log.Info(ctx, "sync skipped, server unreachable")
		return result, nil
	}

	e.log.Info(ctx, "sync started")

	// Deletes go first so the pull phase cannot re-download rows the user
	// already removed.
	aborted := e.pushBatch(ctx, result, []models.Action{models.ActionDelete})
	if !aborted {
		aborted = e.pushBatch(ctx, result, []models.Action{models.ActionCreate, models.ActionUpdate})
	}
	pulled := false
	if !aborted {
		if err := e.pull(ctx, scope, result); err != nil {
			// confirmed pushes stand even when the download fails
			result.AddError(err.Error())
			e.log.Warn(ctx, "pull failed", "error", err)
		} else {
			pulled = true
		}
	}

	result.Success = !aborted && result.Failed == 0
	if result.Success && pulled {
		// last-sync only advances when the download completed too
		if err := e.stampLastSync(ctx); err != nil {
			e.log.Warn(ctx, "failed to store last sync time", "error", err)
		}
	}

	e.log.Info(ctx, "sync finished",
		"success", result.Success,
		"synced", result.Synced,
		"failed", result.Failed,
		"conflicts", result.Conflicts,
	)
	return result, nil
}

// Resolve settles a conflicted pending mutation by explicit user choice.
// ChoiceServerWins replaces the local copy with the server's and drops the
// queue entry; ChoiceClientWins re-sends the local payload against the
// server's current version.
func (e *Engine) Resolve(ctx context.Context, entityID string, choice Choice) error {
	entry, err := e.queue.GetByEntity(ctx, entityID, e.desc.Type)
	if err != nil {
		return fmt.Errorf("no pending mutation for %s: %w", entityID, err)
	}
	rec, err := e.records.GetByID(ctx, entityID)
	if err != nil {
		return err
	}

	srv, err := e.api.Get(ctx, e.desc.Path, rec.RemoteID)
	if isNotFound(err) {
		return e.resolveAgainstMissing(ctx, entry, rec, choice)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch choice {
	case ChoiceServerWins:
		return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
			if err := records.NewSQLiteRepository(tx).ApplyServer(ctx, entityID, srv.Fields, srv.Version, true, now); err != nil {
				return err
			}
			return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
		})
	case ChoiceClientWins:
		newVersion, err := e.api.Update(ctx, e.desc.Path, rec.RemoteID, rec.Payload, srv.Version)
		if err != nil {
			return err
		}
		return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
			if err := records.NewSQLiteRepository(tx).MarkSynced(ctx, entityID, rec.RemoteID, newVersion, now); err != nil {
				return err
			}
			return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
		})
	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}
}

// resolveAgainstMissing handles resolution when the server no longer has
// the record. Server wins means the local copy goes too; client wins means
// the payload is re-created under a fresh server id.
func (e *Engine) resolveAgainstMissing(ctx context.Context, entry *models.QueueEntry, rec *models.Record, choice Choice) error {
	switch choice {
	case ChoiceServerWins:
		return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
			if err := records.NewSQLiteRepository(tx).Purge(ctx, rec.ID); err != nil {
				return err
			}
			return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
		})
	case ChoiceClientWins:
		created, err := e.api.Create(ctx, e.desc.Path, rec.Payload)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
			if err := records.NewSQLiteRepository(tx).MarkSynced(ctx, rec.ID, created.ID, created.Version, now); err != nil {
				return err
			}
			return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
		})
	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}
}

// Retry clears the attempt bookkeeping of a parked queue entry so the next
// run picks it up again.
func (e *Engine) Retry(ctx context.Context, queueID int64) error {
	return e.queue.ResetAttempts(ctx, queueID)
}

// Discard drops the pending mutation for a record and restores the record
// to the server's state. A never-pushed create is removed entirely; for
// updates and deletes the authoritative copy is fetched, which requires
// being online.
func (e *Engine) Discard(ctx context.Context, entityID string) error {
	entry, err := e.queue.GetByEntity(ctx, entityID, e.desc.Type)
	if err != nil {
		return fmt.Errorf("no pending mutation for %s: %w", entityID, err)
	}

	if entry.Action == models.ActionCreate {
		return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
			if err := queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID); err != nil {
				return err
			}
			return records.NewSQLiteRepository(tx).Purge(ctx, entityID)
		})
	}

	rec, err := e.records.GetByID(ctx, entityID)
	if err != nil {
		return err
	}
	srv, err := e.api.Get(ctx, e.desc.Path, rec.RemoteID)
	if isNotFound(err) {
		// server removed it meanwhile, nothing left to restore
		return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
			if err := queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID); err != nil {
				return err
			}
			return records.NewSQLiteRepository(tx).Purge(ctx, entityID)
		})
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.Payload = srv.Fields
	rec.Version = srv.Version
	rec.Synced = true
	rec.Deleted = false
	rec.SyncedAt = &now
	rec.UpdatedAt = now
	return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := records.NewSQLiteRepository(tx).Upsert(ctx, rec); err != nil {
			return err
		}
		return queue.NewSQLiteRepository(tx).Remove(ctx, entry.ID)
	})
}

// Pending returns the queue contents for this entity type, oldest first.
func (e *Engine) Pending(ctx context.Context) ([]*models.QueueEntry, error) {
	entries, err := e.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	var own []*models.QueueEntry
	for _, entry := range entries {
		if entry.EntityType == e.desc.Type {
			own = append(own, entry)
		}
	}
	return own, nil
}

// ErrorLog exposes the bounded per-engine diagnostic trail.
func (e *Engine) ErrorLog() []models.ErrorLogEntry {
	return e.elog.Entries()
}

func (e *Engine) lastSyncKey() string {
	return "last_sync:" + e.desc.Type
}

func (e *Engine) stampLastSync(ctx context.Context) error {
	return e.meta.Set(ctx, e.lastSyncKey(), []byte(time.Now().UTC().Format(time.RFC3339)))
}

// LastSync returns the completion time of the last fully successful run,
// or nil if none succeeded yet.
func (e *Engine) LastSync(ctx context.Context) (*time.Time, error) {
	raw, err := e.meta.Get(ctx, e.lastSyncKey())
	if err != nil || raw == nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse last sync time: %w", err)
	}
	return &t, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var reqErr *api.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == 404 {
		return true
	}
	return errors.Is(err, common.ErrorNotFound)
}
