package sync

import (
	"context"
	"database/sql"
	"fmt"
	gosync "sync"
	"time"

	"github.com/dmitrijs2005/carekeeper/internal/client/api"
	"github.com/dmitrijs2005/carekeeper/internal/client/entity"
	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/carekeeper/internal/logging"
)

// Manager owns one Engine per registered entity type and coordinates
// whole-app sync runs.
type Manager struct {
	engines map[string]*Engine
	queue   queue.Repository
	log     logging.Logger
}

func NewManager(db *sql.DB, apiClient api.Client, oracle Oracle, log logging.Logger, opts Options) *Manager {
	m := &Manager{
		engines: make(map[string]*Engine),
		queue:   queue.NewSQLiteRepository(db),
		log:     log,
	}
	for _, desc := range entity.All() {
		m.engines[desc.Type] = NewEngine(desc, db, apiClient, oracle, log, opts)
	}
	return m
}

// Engine returns the engine for one entity type.
func (m *Manager) Engine(entityType string) (*Engine, error) {
	e, ok := m.engines[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	return e, nil
}

// EngineFor returns the engine owning a queue entry's record.
func (m *Manager) EngineFor(entry *models.QueueEntry) (*Engine, error) {
	return m.Engine(entry.EntityType)
}

// Pending returns the queue across all entity types, oldest first.
func (m *Manager) Pending(ctx context.Context) ([]*models.QueueEntry, error) {
	return m.queue.List(ctx)
}

// PendingCount returns the operator-visible pending mutation count.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.queue.Count(ctx)
}

// SyncAll runs every engine concurrently. Each engine works on its own
// rows, so runs only contend on the SQLite writer lock.
func (m *Manager) SyncAll(ctx context.Context, scope map[string]string) *models.SyncResult {
	total := &models.SyncResult{Success: true}

	var mu gosync.Mutex
	var wg gosync.WaitGroup
	for _, e := range m.engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			res, err := e.Sync(ctx, scope)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				total.Success = false
				total.AddError(fmt.Sprintf("%s: %v", e.desc.Type, err))
				return
			}
			total.Merge(res)
			if !res.Success {
				total.Success = false
			}
		}(e)
	}
	wg.Wait()

	return total
}

// RunPeriodic triggers SyncAll on a fixed interval until ctx is canceled.
// Intended to run in its own goroutine next to the connectivity watcher.
func (m *Manager) RunPeriodic(ctx context.Context, interval time.Duration, scope map[string]string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := m.SyncAll(ctx, scope)
			if !res.Success {
				m.log.Warn(ctx, "periodic sync incomplete",
					"failed", res.Failed, "errors", len(res.Errors))
			}
		}
	}
}
