package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
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

const recordColumns = `id, entity_type, remote_id, version, payload, synced, deleted, synced_at, updated_at`

func (r *SQLiteRepository) Upsert(ctx context.Context, rec *models.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	query := `INSERT INTO records (id, entity_type, remote_id, version, payload, synced, deleted, synced_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				remote_id = excluded.remote_id,
				version = excluded.version,
				payload = excluded.payload,
				synced = excluded.synced,
				deleted = excluded.deleted,
				synced_at = excluded.synced_at,
				updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.EntityType, rec.RemoteID, rec.Version, string(rec.Payload),
		rec.Synced, rec.Deleted, rec.SyncedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	return oneRecord(row)
}

func (r *SQLiteRepository) GetByRemoteID(ctx context.Context, entityType, remoteID string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE entity_type = ? AND remote_id = ?`,
		entityType, remoteID)
	return oneRecord(row)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id, remoteID string, version int64, syncedAt time.Time) error {
	query := `UPDATE records SET remote_id = ?, version = ?, synced = 1, synced_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, remoteID, version, syncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark record synced: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) ApplyServer(ctx context.Context, id string, payload json.RawMessage, version int64, synced bool, syncedAt time.Time) error {
	query := `UPDATE records SET payload = ?, version = ?, synced = ?, synced_at = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(payload), version, synced, syncedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to apply server state: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE records SET deleted = 1, synced = 0, updated_at = ? WHERE id = ? AND deleted = 0`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete record: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) Purge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListActive(ctx context.Context, entityType string) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE entity_type = ? AND deleted = 0 ORDER BY updated_at`,
		entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *SQLiteRepository) ListUnsynced(ctx context.Context, entityType string) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE entity_type = ? AND synced = 0 ORDER BY updated_at`,
		entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecord(scan func(dest ...any) error) (*models.Record, error) {
	rec := &models.Record{}
	var payload string
	var syncedAt sql.NullTime

	err := scan(&rec.ID, &rec.EntityType, &rec.RemoteID, &rec.Version, &payload,
		&rec.Synced, &rec.Deleted, &syncedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Payload = []byte(payload)
	if syncedAt.Valid {
		t := syncedAt.Time
		rec.SyncedAt = &t
	}
	return rec, nil
}

func oneRecord(row *sql.Row) (*models.Record, error) {
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	var result []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
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
