package db

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/localba/internal/lbastats"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(session string, call int) lbastats.Record {
	var h lbastats.Histogram
	h.Add(0)
	h.Add(1)
	h.Add(-1)
	return lbastats.Record{
		SessionID:       session,
		Call:            call,
		Timestamp:       time.Date(2024, 3, 1, 10, 0, call, 0, time.UTC),
		NewViews:        2,
		LocalBA:         true,
		Strategy:        1,
		DistanceLimit:   1,
		Poses:           lbastats.StateCounts{Refined: 2, Constant: 3, Ignored: 4},
		Intrinsics:      lbastats.StateCounts{Constant: 1},
		Landmarks:       lbastats.StateCounts{Refined: 100, Ignored: 20},
		GraphNodes:      9,
		GraphEdges:      11,
		Distances:       h,
		ParameterBlocks: 105,
		ConstantBlocks:  4,
		ResidualBlocks:  230,
		Converged:       call%2 == 1,
		Termination:     "convergence",
		Iterations:      7,
		InitialCost:     42.5,
		FinalCost:       0.125,
		GraphTime:       time.Millisecond,
		DistanceTime:    2 * time.Millisecond,
		ClassifyTime:    3 * time.Millisecond,
		SolveTime:       time.Second,
		TotalTime:       time.Second + 6*time.Millisecond,
	}
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var synchronous int
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous) // NORMAL

	var tempStore int
	require.NoError(t, db.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore) // MEMORY
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reapplying is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateDown())
	var tables int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'lba_%'`).Scan(&tables))
	assert.Zero(t, tables)
}

func TestInsertAndListRecords(t *testing.T) {
	db := newTestDB(t)
	recs := []lbastats.Record{testRecord("s1", 1), testRecord("s1", 2)}

	require.NoError(t, db.InsertRecords("s1", "scene.json", recs))
	require.NoError(t, db.EnsureSession("s2", "other.json", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, db.InsertRecord(testRecord("s2", 1)))

	got, err := db.ListRecords("s1")
	require.NoError(t, err)
	if diff := cmp.Diff(recs, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	sessions, err := db.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Equal(t, 1, sessions[0].Calls)
	assert.Equal(t, "s1", sessions[1].ID)
	assert.Equal(t, "scene.json", sessions[1].Scene)
	assert.Equal(t, 2, sessions[1].Calls)
}

func TestInsertRecord_DuplicateCall(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.InsertRecords("s1", "", []lbastats.Record{testRecord("s1", 1)}))
	require.Error(t, db.InsertRecord(testRecord("s1", 1)))

	// A failed batch leaves nothing behind.
	require.Error(t, db.InsertRecords("s3", "", []lbastats.Record{testRecord("s3", 1), testRecord("s3", 1)}))
	got, err := db.ListRecords("s3")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInsertRecord_UnknownSession(t *testing.T) {
	db := newTestDB(t)
	require.Error(t, db.InsertRecord(testRecord("missing", 1)))
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "SQL live debugging")
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "schema version 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "schema version 2")

	out.Reset()
	require.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Contains(t, out.String(), "Usage: localba migrate")

	require.Error(t, RunMigrateCommand(nil, path, &out))
}
