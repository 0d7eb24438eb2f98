package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/common"
	"github.com/dmitrijs2005/carekeeper/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, e *models.QueueEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO sync_queue (entity_id, entity_type, action, payload, attempts, last_error, created_at)
			VALUES (?, ?, ?, ?, 0, '', ?)
			ON CONFLICT(entity_id, entity_type) DO UPDATE SET
				action = excluded.action,
				payload = excluded.payload,
				attempts = 0,
				last_attempt_at = NULL,
				last_error = ''
	`
	_, err := r.db.ExecContext(ctx, query,
		e.EntityID, e.EntityType, string(e.Action), string(e.Payload), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) NextBatch(ctx context.Context, entityType string, actions []models.Action, maxAttempts, limit int) ([]*models.QueueEntry, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(actions))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(actions)+3)
	args = append(args, entityType)
	for _, a := range actions {
		args = append(args, string(a))
	}
	args = append(args, maxAttempts, limit)

	query := fmt.Sprintf(`SELECT id, entity_id, entity_type, action, payload, attempts, last_attempt_at, last_error, created_at
			FROM sync_queue
			WHERE entity_type = ? AND action IN (%s) AND attempts < ?
			ORDER BY id
			LIMIT ?`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue batch: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (r *SQLiteRepository) MarkAttempt(ctx context.Context, id int64, attemptErr string) error {
	query := `UPDATE sync_queue SET attempts = attempts + 1, last_attempt_at = ?, last_error = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), attemptErr, id)
	if err != nil {
		return fmt.Errorf("failed to mark attempt: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) Park(ctx context.Context, id int64, attempts int, attemptErr string) error {
	query := `UPDATE sync_queue SET attempts = ?, last_attempt_at = ?, last_error = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, attempts, time.Now().UTC(), attemptErr, id)
	if err != nil {
		return fmt.Errorf("failed to park entry: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) Remove(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ResetAttempts(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue SET attempts = 0, last_attempt_at = NULL, last_error = '' WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) GetByEntity(ctx context.Context, entityID, entityType string) (*models.QueueEntry, error) {
	query := `SELECT id, entity_id, entity_type, action, payload, attempts, last_attempt_at, last_error, created_at
			FROM sync_queue WHERE entity_id = ? AND entity_type = ?`
	row := r.db.QueryRowContext(ctx, query, entityID, entityType)

	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.QueueEntry, error) {
	query := `SELECT id, entity_id, entity_type, action, payload, attempts, last_attempt_at, last_error, created_at
			FROM sync_queue ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func scanEntry(scan func(dest ...any) error) (*models.QueueEntry, error) {
	e := &models.QueueEntry{}
	var action, payload string
	var lastAttempt sql.NullTime

	err := scan(&e.ID, &e.EntityID, &e.EntityType, &action, &payload,
		&e.Attempts, &lastAttempt, &e.LastError, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.Action = models.Action(action)
	e.Payload = []byte(payload)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		e.LastAttemptAt = &t
	}
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]*models.QueueEntry, error) {
	var result []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func requireOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrorNotFound
	}
	return nil
}
