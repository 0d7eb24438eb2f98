package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/carekeeper/internal/common"
	"github.com/dmitrijs2005/carekeeper/internal/dbx"
)

// pull downloads the authoritative collection for the scope and folds it
// into the local store. Versions only move forward: a server copy older
// than or equal to the local one is ignored.
func (e *Engine) pull(ctx context.Context, scope map[string]string, result *models.SyncResult) error {
	serverRecords, err := e.api.List(ctx, e.desc.Path, scope)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	for _, srv := range serverRecords {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.mergeServerRecord(ctx, srv, result); err != nil {
			result.AddError(fmt.Sprintf("pull %s: %v", srv.ID, err))
		}
	}
	return nil
}

func (e *Engine) mergeServerRecord(ctx context.Context, srv models.ServerRecord, result *models.SyncResult) error {
	local, err := e.records.GetByRemoteID(ctx, e.desc.Type, srv.ID)
	if errors.Is(err, common.ErrorNotFound) {
		now := time.Now().UTC()
		rec := &models.Record{
			ID:         uuid.NewString(),
			EntityType: e.desc.Type,
			RemoteID:   srv.ID,
			Version:    srv.Version,
			Payload:    srv.Fields,
			Synced:     true,
			SyncedAt:   &now,
			UpdatedAt:  now,
		}
		if err := e.records.Upsert(ctx, rec); err != nil {
			return err
		}
		result.Synced++
		return nil
	}
	if err != nil {
		return err
	}

	// a pending local delete is never undone by a download
	if local.Deleted {
		return nil
	}
	if srv.Version <= local.Version {
		return nil
	}

	now := time.Now().UTC()

	if !local.Synced {
		// unsent local edits layer over the newer server copy; the queued
		// payload is refreshed so the eventual push carries the merge
		result.Conflicts++
		merged, err := e.resolver.Merge(local.Payload, srv.Fields)
		if err != nil {
			return err
		}
		err = dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
			if err := records.NewSQLiteRepository(tx).ApplyServer(ctx, local.ID, merged, srv.Version, false, now); err != nil {
				return err
			}
			return queue.NewSQLiteRepository(tx).Enqueue(ctx, &models.QueueEntry{
				EntityID:   local.ID,
				EntityType: e.desc.Type,
				Action:     models.ActionUpdate,
				Payload:    merged,
			})
		})
		if err != nil {
			return err
		}
		result.Synced++
		e.log.Info(ctx, "merged newer server copy over local edits",
			"entity_id", local.ID, "version", srv.Version)
		return nil
	}

	if err := e.records.ApplyServer(ctx, local.ID, srv.Fields, srv.Version, true, now); err != nil {
		return err
	}
	result.Synced++
	return nil
}
