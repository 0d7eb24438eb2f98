package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/carekeeper/internal/client"
	"github.com/dmitrijs2005/carekeeper/internal/client/api"
	"github.com/dmitrijs2005/carekeeper/internal/client/entity"
	"github.com/dmitrijs2005/carekeeper/internal/client/models"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/queue"
	"github.com/dmitrijs2005/carekeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/carekeeper/internal/common"
	"github.com/dmitrijs2005/carekeeper/internal/logging"

	_ "modernc.org/sqlite"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeAPI is an in-memory server with injectable ping and transient
// failures. Mutating calls consume pending failures first. Records are
// segregated by collection path, like the real server.
type fakeAPI struct {
	mu       gosync.Mutex
	pingErr  error
	listErr  error
	failures int
	failErr  error
	// dropIn counts down on mutating calls; at zero the link is dead
	// and both mutations and pings fail. Negative disables it.
	dropIn int
	store  map[string]*models.ServerRecord
	paths  map[string]string
	nextID int
	ops    []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		store:   map[string]*models.ServerRecord{},
		paths:   map[string]string{},
		failErr: &api.RequestError{StatusCode: 500, Message: "boom"},
		dropIn:  -1,
	}
}

func (f *fakeAPI) seed(path, id string, version int64, fields string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[id] = &models.ServerRecord{
		ID: id, Version: version, UpdatedAt: time.Now().UTC(),
		Fields: json.RawMessage(fields),
	}
	f.paths[id] = path
}

func (f *fakeAPI) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeAPI) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeAPI) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// dropAfter kills the connection once n more mutating calls succeed.
func (f *fakeAPI) dropAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropIn = n
}

func (f *fakeAPI) restore() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropIn = -1
	f.failures = 0
	f.pingErr = nil
}

func (f *fakeAPI) opCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ops)
}

func (f *fakeAPI) record(id string) *models.ServerRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[id]
}

func (f *fakeAPI) consumeFailure() error {
	if f.dropIn == 0 {
		return f.failErr
	}
	if f.dropIn > 0 {
		f.dropIn--
	}
	if f.failures > 0 {
		f.failures--
		return f.failErr
	}
	return nil
}

func (f *fakeAPI) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropIn == 0 {
		return fmt.Errorf("dial tcp: connection refused")
	}
	return f.pingErr
}

func (f *fakeAPI) Create(ctx context.Context, path string, fields json.RawMessage) (*api.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "create")
	if err := f.consumeFailure(); err != nil {
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("r%d", f.nextID)
	f.store[id] = &models.ServerRecord{
		ID: id, Version: 1, UpdatedAt: time.Now().UTC(),
		Fields: append(json.RawMessage(nil), fields...),
	}
	f.paths[id] = path
	return &api.CreateResult{ID: id, Version: 1}, nil
}

func (f *fakeAPI) Update(ctx context.Context, path, id string, fields json.RawMessage, version int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "update "+id)
	if err := f.consumeFailure(); err != nil {
		return 0, err
	}
	rec, ok := f.store[id]
	if !ok {
		return 0, &api.RequestError{StatusCode: 404, Message: "not found"}
	}
	if rec.Version != version {
		return 0, common.ErrVersionConflict
	}
	rec.Version++
	rec.Fields = append(json.RawMessage(nil), fields...)
	rec.UpdatedAt = time.Now().UTC()
	return rec.Version, nil
}

func (f *fakeAPI) Delete(ctx context.Context, path, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "delete "+id)
	if err := f.consumeFailure(); err != nil {
		return err
	}
	delete(f.store, id)
	return nil
}

func (f *fakeAPI) Get(ctx context.Context, path, id string) (*models.ServerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.store[id]
	if !ok {
		return nil, &api.RequestError{StatusCode: 404, Message: "not found"}
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeAPI) List(ctx context.Context, path string, scope map[string]string) ([]models.ServerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.ServerRecord
	for id, rec := range f.store {
		if f.paths[id] != path {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAPI) Close() error { return nil }

var fastOpts = Options{
	MaxAttempts: 3,
	BackoffBase: time.Millisecond,
	BackoffCap:  5 * time.Millisecond,
	BatchLimit:  10,
}

func setupSyncDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, client.RunMigrations(context.Background(), db))
	return db
}

func newTestEngine(t *testing.T, db *sql.DB, srv *fakeAPI) *Engine {
	t.Helper()
	log := testLogger()
	return NewEngine(entity.InsuranceCards, db, srv, NewWatcher(srv, log), log, fastOpts)
}

// seedSyncedRecord inserts a local record already reconciled with the server.
func seedSyncedRecord(t *testing.T, db *sql.DB, id, remoteID string, version int64, payload string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, records.NewSQLiteRepository(db).Upsert(context.Background(), &models.Record{
		ID:         id,
		EntityType: entity.InsuranceCards.Type,
		RemoteID:   remoteID,
		Version:    version,
		Payload:    []byte(payload),
		Synced:     true,
		SyncedAt:   &now,
		UpdatedAt:  now,
	}))
}

func queueCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	n, err := queue.NewSQLiteRepository(db).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestSync_CreateOfflineThenSync(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	rec, err := NewStore(db).Create(ctx, entity.InsuranceCards, []byte(`{"provider":"Acme","copay":70,"notes":""}`))
	require.NoError(t, err)
	assert.Equal(t, 1, queueCount(t, db))

	res, err := e.Sync(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Conflicts)

	got, err := records.NewSQLiteRepository(db).GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, "r1", got.RemoteID)
	assert.Equal(t, int64(1), got.Version)
	assert.NotNil(t, got.SyncedAt)

	assert.Zero(t, queueCount(t, db))
	require.NotNil(t, srv.record("r1"))
	assert.JSONEq(t, `{"provider":"Acme","copay":70,"notes":""}`, string(srv.record("r1").Fields))
}

func TestSync_OfflineLeavesQueueIntact(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	srv.setPingErr(fmt.Errorf("dial tcp: connection refused"))
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	_, err := NewStore(db).Create(ctx, entity.InsuranceCards, []byte(`{"copay":1}`))
	require.NoError(t, err)

	res, err := e.Sync(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors, "no connection")
	assert.Equal(t, 1, queueCount(t, db))
	assert.Zero(t, srv.opCount())
}

func TestSync_EmptyQueuePullsServerRecords(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	srv.seed(entity.InsuranceCards.Path, "r1", 1, `{"provider":"Acme","copay":10}`)
	srv.seed(entity.InsuranceCards.Path, "r2", 4, `{"provider":"Beta","copay":20}`)
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	res, err := e.Sync(ctx, map[string]string{"patient_id": "p1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Synced)

	local, err := records.NewSQLiteRepository(db).ListActive(ctx, entity.InsuranceCards.Type)
	require.NoError(t, err)
	require.Len(t, local, 2)
	for _, rec := range local {
		assert.True(t, rec.Synced)
		assert.NotEmpty(t, rec.RemoteID)
	}
}

func TestSync_PullFailureKeepsPushResults(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	srv.setListErr(fmt.Errorf("connection reset by peer"))
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	_, err := NewStore(db).Create(ctx, entity.InsuranceCards, []byte(`{"copay":1}`))
	require.NoError(t, err)

	res, err := e.Sync(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "pull failed")
	assert.Zero(t, queueCount(t, db))

	// the download did not complete, so the last-sync mark stays put
	ts, err := e.LastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestSync_SecondRunWhileFirstInFlight(t *testing.T) {
	db := setupSyncDB(t)
	e := newTestEngine(t, db, newFakeAPI())

	e.running.Store(true)
	_, err := e.Sync(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrSyncInProgress)

	e.running.Store(false)
	_, err = e.Sync(context.Background(), nil)
	assert.NoError(t, err)
}

func TestSync_StampsLastSyncOnSuccessOnly(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	ts, err := e.LastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, ts)

	srv.setPingErr(fmt.Errorf("unreachable"))
	_, err = e.Sync(ctx, nil)
	require.NoError(t, err)
	ts, err = e.LastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, ts)

	srv.setPingErr(nil)
	res, err := e.Sync(ctx, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	ts, err = e.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.WithinDuration(t, time.Now().UTC(), *ts, time.Minute)
}

func TestResolve_ServerWins(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	srv.seed(entity.InsuranceCards.Path, "r1", 2, `{"copay":80,"notes":""}`)
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	seedSyncedRecord(t, db, "loc1", "r1", 1, `{"copay":70,"notes":""}`)
	require.NoError(t, NewStore(db).Update(ctx, entity.InsuranceCards, "loc1", []byte(`{"copay":70,"notes":"call back"}`)))

	require.NoError(t, e.Resolve(ctx, "loc1", ChoiceServerWins))

	got, err := records.NewSQLiteRepository(db).GetByID(ctx, "loc1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, int64(2), got.Version)
	assert.JSONEq(t, `{"copay":80,"notes":""}`, string(got.Payload))
	assert.Zero(t, queueCount(t, db))
}

func TestResolve_ClientWins(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	srv.seed(entity.InsuranceCards.Path, "r1", 2, `{"copay":80,"notes":""}`)
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	seedSyncedRecord(t, db, "loc1", "r1", 1, `{"copay":70,"notes":""}`)
	require.NoError(t, NewStore(db).Update(ctx, entity.InsuranceCards, "loc1", []byte(`{"copay":70,"notes":"call back"}`)))

	require.NoError(t, e.Resolve(ctx, "loc1", ChoiceClientWins))

	assert.Equal(t, int64(3), srv.record("r1").Version)
	assert.JSONEq(t, `{"copay":70,"notes":"call back"}`, string(srv.record("r1").Fields))

	got, err := records.NewSQLiteRepository(db).GetByID(ctx, "loc1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, int64(3), got.Version)
	assert.Zero(t, queueCount(t, db))
}

func TestResolve_UnknownChoice(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	srv.seed(entity.InsuranceCards.Path, "r1", 1, `{}`)
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	seedSyncedRecord(t, db, "loc1", "r1", 1, `{}`)
	require.NoError(t, NewStore(db).Update(ctx, entity.InsuranceCards, "loc1", []byte(`{"copay":1}`)))

	assert.Error(t, e.Resolve(ctx, "loc1", Choice("coin-flip")))
}

func TestDiscard_PendingCreateRemovesRecord(t *testing.T) {
	db := setupSyncDB(t)
	e := newTestEngine(t, db, newFakeAPI())
	ctx := context.Background()

	rec, err := NewStore(db).Create(ctx, entity.InsuranceCards, []byte(`{"copay":1}`))
	require.NoError(t, err)

	require.NoError(t, e.Discard(ctx, rec.ID))

	_, err = records.NewSQLiteRepository(db).GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Zero(t, queueCount(t, db))
}

func TestDiscard_PendingUpdateRestoresServerCopy(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	srv.seed(entity.InsuranceCards.Path, "r1", 2, `{"copay":80,"notes":"verified"}`)
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	seedSyncedRecord(t, db, "loc1", "r1", 1, `{"copay":70,"notes":""}`)
	require.NoError(t, NewStore(db).Update(ctx, entity.InsuranceCards, "loc1", []byte(`{"copay":75,"notes":""}`)))

	require.NoError(t, e.Discard(ctx, "loc1"))

	got, err := records.NewSQLiteRepository(db).GetByID(ctx, "loc1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, int64(2), got.Version)
	assert.JSONEq(t, `{"copay":80,"notes":"verified"}`, string(got.Payload))
	assert.Zero(t, queueCount(t, db))
}

func TestDiscard_PendingDeleteRestoresRecord(t *testing.T) {
	db := setupSyncDB(t)
	srv := newFakeAPI()
	srv.seed(entity.InsuranceCards.Path, "r1", 1, `{"copay":80}`)
	e := newTestEngine(t, db, srv)
	ctx := context.Background()

	seedSyncedRecord(t, db, "loc1", "r1", 1, `{"copay":80}`)
	require.NoError(t, NewStore(db).Delete(ctx, entity.InsuranceCards, "loc1"))

	require.NoError(t, e.Discard(ctx, "loc1"))

	got, err := records.NewSQLiteRepository(db).GetByID(ctx, "loc1")
	require.NoError(t, err)
	assert.False(t, got.Deleted)
	assert.True(t, got.Synced)
	assert.Zero(t, queueCount(t, db))
}
