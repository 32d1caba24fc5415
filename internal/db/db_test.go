package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/monitoring"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = prev })

	db, err := NewDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// re-running is a no-op
	require.NoError(t, db.MigrateUp(MigrationsFS()))

	require.NoError(t, db.MigrateDown(MigrationsFS()))
	version, _, err = db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	_, err = db.ListSessions(0)
	assert.Error(t, err, "summary view dropped")

	require.NoError(t, db.MigrateUp(MigrationsFS()))
	_, err = db.ListSessions(0)
	assert.NoError(t, err)
}

func TestOpenDB_Unmigrated(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func sampleOutput(tick uint64, comfort float64, b crown.Bottleneck, emergency bool) crown.Output {
	o := crown.Output{
		Tick:             tick,
		Dt:               1.0 / 90,
		RawComfort:       comfort,
		Threat:           1 - comfort,
		Confidence:       0.9,
		Gain:             0.9,
		EffectiveComfort: comfort * 0.9,
		Bottleneck:       b,
		Emergency:        emergency,
	}
	for i := range o.Proximities {
		o.Proximities[i] = 0.1 * float64(i)
		o.Weights[i] = 1
		o.Channels[i] = 0.05 * float64(i)
	}
	for i := range o.Factors {
		o.Factors[i] = 1 - 0.01*float64(i)
	}
	return o
}

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	started := time.Unix(1700000000, 0)

	s, err := db.StartSession("bench", "replay:log.jsonl", []byte(`{"aggregation":"product"}`), started)
	require.NoError(t, err)
	assert.Len(t, s.ID, 36)

	ticks := []TickRecord{
		{RecordedUnix: 1700000000.01, Output: sampleOutput(1, 1, crown.BottleneckNone, false)},
		{RecordedUnix: 1700000000.02, Output: sampleOutput(2, 0.5, crown.BottleneckGPU, false)},
		{RecordedUnix: 1700000000.03, Output: sampleOutput(3, 0.2, crown.BottleneckThermal, true)},
	}
	require.NoError(t, db.RecordTicks(s.ID, ticks))
	require.NoError(t, db.RecordTicks(s.ID, nil))
	require.NoError(t, db.EndSession(s.ID, started.Add(time.Minute)))

	got, err := db.SessionTicks(s.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(ticks, got); diff != "" {
		t.Errorf("SessionTicks mismatch (-want +got):\n%s", diff)
	}

	loaded, err := db.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "bench", loaded.Label)
	assert.Equal(t, "replay:log.jsonl", loaded.Source)
	assert.JSONEq(t, `{"aggregation":"product"}`, string(loaded.Config))
	assert.EqualValues(t, 3, loaded.TickCount)
	require.NotNil(t, loaded.EndedUnix)
	assert.InDelta(t, 1700000060, *loaded.EndedUnix, 1e-6)

	list, err := db.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 3, list[0].TickCount)
	assert.EqualValues(t, 1, list[0].EmergencyTicks)
	require.NotNil(t, list[0].MinEffectiveComfort)
	assert.InDelta(t, 0.18, *list[0].MinEffectiveComfort, 1e-9)
	require.NotNil(t, list[0].MeanEffectiveComfort)
	assert.InDelta(t, (0.9+0.45+0.18)/3, *list[0].MeanEffectiveComfort, 1e-9)
}

func TestRecordTicks_DuplicateTickRollsBack(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession("", "", nil, time.Now())
	require.NoError(t, err)

	err = db.RecordTicks(s.ID, []TickRecord{
		{Output: sampleOutput(1, 1, crown.BottleneckNone, false)},
		{Output: sampleOutput(1, 1, crown.BottleneckNone, false)},
	})
	require.Error(t, err)

	got, err := db.SessionTicks(s.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordTicks_UnknownSession(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordTicks("missing", []TickRecord{{Output: sampleOutput(1, 1, crown.BottleneckNone, false)}})
	assert.Error(t, err, "foreign key enforced")
}

func TestListSessions_OrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	base := time.Unix(1700000000, 0)
	var ids []string
	for i := 0; i < 3; i++ {
		s, err := db.StartSession("", "", nil, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	list, err := db.ListSessions(2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)
	assert.Nil(t, list[0].MeanEffectiveComfort, "no ticks yet")

	all, err := db.ListSessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSessionErrors(t *testing.T) {
	db := newTestDB(t)

	_, err := db.StartSession("", "", []byte("{"), time.Now())
	assert.Error(t, err)

	_, err = db.GetSession("nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.ErrorIs(t, db.EndSession("nope", time.Now()), ErrSessionNotFound)
	assert.ErrorIs(t, db.DeleteSession("nope"), ErrSessionNotFound)
}

func TestDeleteSession_Cascades(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession("", "", nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, db.RecordTicks(s.ID, []TickRecord{{Output: sampleOutput(1, 1, crown.BottleneckNone, false)}}))

	require.NoError(t, db.DeleteSession(s.ID))
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM ticks").Scan(&n))
	assert.Zero(t, n)
}

func TestAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	_, err := db.StartSession("backed-up", "", nil, time.Now())
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "comfort-backup-")

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}

func TestAdminRoutes_TailSQL(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/tailsql/", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
