package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/carekeeper/internal/client/entity"
	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/carekeeper/internal/common"
	"github.com/dmitrijs2005/carekeeper/internal/dbx"
)

// Store is the local mutation entry point used by the UI layer. Every
// mutation writes the record and its queue representation in one
// transaction, which is what keeps the "unsynced implies queued" invariant.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new local record and queues its upload.
func (s *Store) Create(ctx context.Context, desc entity.Descriptor, payload json.RawMessage) (*models.Record, error) {
	rec := &models.Record{
		ID:         uuid.NewString(),
		EntityType: desc.Type,
		Payload:    payload,
		UpdatedAt:  time.Now().UTC(),
	}

	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := records.NewSQLiteRepository(tx).Upsert(ctx, rec); err != nil {
			return err
		}
		return queue.NewSQLiteRepository(tx).Enqueue(ctx, &models.QueueEntry{
			EntityID:   rec.ID,
			EntityType: desc.Type,
			Action:     models.ActionCreate,
			Payload:    payload,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return rec, nil
}

// Update replaces the record's payload and queues the new snapshot. While
// the initial create is still unsent, repeated edits stay collapsed under
// the create entry so the server sees a single insert.
func (s *Store) Update(ctx context.Context, desc entity.Descriptor, id string, payload json.RawMessage) error {
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		rr := records.NewSQLiteRepository(tx)
		qr := queue.NewSQLiteRepository(tx)

		rec, err := rr.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return fmt.Errorf("record %s is deleted", id)
		}

		rec.Payload = payload
		rec.Synced = false
		rec.UpdatedAt = time.Now().UTC()
		if err := rr.Upsert(ctx, rec); err != nil {
			return err
		}

		action := models.ActionUpdate
		if rec.RemoteID == "" {
			action = models.ActionCreate
		}
		return qr.Enqueue(ctx, &models.QueueEntry{
			EntityID:   id,
			EntityType: desc.Type,
			Action:     action,
			Payload:    payload,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// Delete soft-deletes a record and queues the delete. A record the server
// has never seen is dropped outright together with its queue entry.
func (s *Store) Delete(ctx context.Context, desc entity.Descriptor, id string) error {
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		rr := records.NewSQLiteRepository(tx)
		qr := queue.NewSQLiteRepository(tx)

		rec, err := rr.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if rec.RemoteID == "" {
			// never reached the server: nothing to tell it
			entry, err := qr.GetByEntity(ctx, id, desc.Type)
			if err == nil {
				if err := qr.Remove(ctx, entry.ID); err != nil {
					return err
				}
			} else if !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			return rr.Purge(ctx, id)
		}

		if err := rr.SoftDelete(ctx, id); err != nil {
			return err
		}
		return qr.Enqueue(ctx, &models.QueueEntry{
			EntityID:   id,
			EntityType: desc.Type,
			Action:     models.ActionDelete,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}
