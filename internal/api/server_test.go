package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/db"
	"github.com/banshee-data/comfort.gate/internal/monitoring"
	"github.com/banshee-data/comfort.gate/internal/serialmux"
	"github.com/banshee-data/comfort.gate/internal/session"
	"github.com/banshee-data/comfort.gate/internal/testutil"
	"github.com/banshee-data/comfort.gate/internal/version"
)

type testEnv struct {
	runner *session.Runner
	store  *db.DB
	reg    *prometheus.Registry
	mux    *http.ServeMux
}

// newTestEnv wires a runner fed by a mock serial mux, a temporary session
// database and a private metrics registry. frames calm frames are fed
// before returning.
func newTestEnv(t *testing.T, withStore bool, frames int) *testEnv {
	t.Helper()
	testutil.QuietLogs(t)

	engine, err := crown.NewEngine(crown.DefaultConfig())
	require.NoError(t, err)
	sm, _ := serialmux.NewMockSerialMux()
	t.Cleanup(func() { sm.Close() })

	reg := prometheus.NewRegistry()
	runner := session.NewRunner(sm, engine, session.Options{Metrics: monitoring.NewMetrics(reg)})
	for i := 1; i <= frames; i++ {
		runner.HandleLine(testutil.CalmFrame(i))
	}

	env := &testEnv{runner: runner, reg: reg}
	var store SessionStore
	if withStore {
		env.store, err = db.NewDB(filepath.Join(t.TempDir(), "sessions.db"))
		require.NoError(t, err)
		t.Cleanup(func() { env.store.Close() })
		store = env.store
	}
	env.mux = NewServer(runner, store, reg).ServeMux()
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestShowComfort(t *testing.T) {
	env := newTestEnv(t, false, 5)

	rec := env.do(t, http.MethodGet, "/api/comfort", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[ComfortResponse](t, rec)
	assert.EqualValues(t, 5, resp.Tick)
	assert.InDelta(t, 1, resp.EffectiveComfort, 1e-9)
	assert.InDelta(t, 1-resp.RawComfort, resp.Threat, 1e-12)
	assert.False(t, resp.Emergency)
	assert.Equal(t, crown.BottleneckNone, resp.Bottleneck)
	assert.Contains(t, rec.Body.String(), `"bottleneck":"none"`)
}

func TestShowStatus(t *testing.T) {
	env := newTestEnv(t, false, 3)
	env.runner.HandleLine("{garbage}")

	st := decode[session.Status](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.EqualValues(t, 3, st.Ticks)
	assert.EqualValues(t, 1, st.FrameErrors)
	assert.EqualValues(t, 3, st.Latest.Tick)
}

func TestShowProximity(t *testing.T) {
	env := newTestEnv(t, false, 2)

	all := decode[map[string]float64](t, env.do(t, http.MethodGet, "/api/proximity", nil))
	assert.Len(t, all, crown.NumConstraints)
	assert.Contains(t, all, "motion_sickness")

	one := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/proximity?i=2", nil))
	assert.Equal(t, "motion_sickness", one["constraint"])
	assert.EqualValues(t, 2, one["index"])

	for _, q := range []string{"i=6", "i=-1", "i=x"} {
		rec := env.do(t, http.MethodGet, "/api/proximity?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestShowHistory(t *testing.T) {
	env := newTestEnv(t, false, 6)

	all := decode[[]db.TickRecord](t, env.do(t, http.MethodGet, "/api/history", nil))
	assert.Len(t, all, 6)

	last := decode[[]db.TickRecord](t, env.do(t, http.MethodGet, "/api/history?n=2", nil))
	require.Len(t, last, 2)
	assert.EqualValues(t, 5, last[0].Tick)
	assert.EqualValues(t, 6, last[1].Tick)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/history?n=-3", nil).Code)
}

func TestConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t, false, 0)

	rec := env.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[map[string]any](t, rec)
	assert.Contains(t, cfg, "thresholds")

	rec = env.do(t, http.MethodPut, "/api/config", []byte(`{"thresholds":{"phase_coherence":3}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3.0, env.runner.Config().Thresholds[crown.PhaseCoherence])
	assert.Equal(t, crown.DefaultConfig().Thresholds[crown.AttentionLoad], env.runner.Config().Thresholds[crown.AttentionLoad])
}

func TestUpdateConfig_Rejects(t *testing.T) {
	env := newTestEnv(t, false, 0)
	before := env.runner.Config()

	tests := []struct {
		name   string
		body   []byte
		status int
	}{
		{"not json", []byte("{"), http.StatusBadRequest},
		{"unknown field", []byte(`{"bogus":1}`), http.StatusBadRequest},
		{"unknown constraint", []byte(`{"thresholds":{"nausea":1}}`), http.StatusBadRequest},
		{"too large", bytes.Repeat([]byte(" "), maxConfigBody+1), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/config", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, before, env.runner.Config())
}

func TestReset(t *testing.T) {
	env := newTestEnv(t, false, 4)

	rec := env.do(t, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, env.runner.Latest().Tick)
	assert.Empty(t, env.runner.History(0))

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/api/reset", nil).Code)
}

func TestShowVersion(t *testing.T) {
	env := newTestEnv(t, false, 0)

	info := decode[version.Info](t, env.do(t, http.MethodGet, "/api/version", nil))
	assert.Equal(t, version.Get(), info)
}

func TestSessions_NoStore(t *testing.T) {
	env := newTestEnv(t, false, 0)

	for _, path := range []string{"/api/sessions", "/api/sessions/abc", "/api/sessions/abc/ticks", "/api/sessions/abc/summary", "/api/sessions/abc/plot.png"} {
		assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, path, nil).Code, path)
	}
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, true, 20)

	started := time.Unix(1700000000, 0)
	sess, err := env.store.StartSession("bench", "replay", nil, started)
	require.NoError(t, err)
	require.NoError(t, env.store.RecordTicks(sess.ID, env.runner.History(0)))
	empty, err := env.store.StartSession("idle", "replay", nil, started.Add(time.Minute))
	require.NoError(t, err)

	list := decode[[]db.SessionSummary](t, env.do(t, http.MethodGet, "/api/sessions", nil))
	require.Len(t, list, 2)
	assert.Equal(t, empty.ID, list[0].ID, "newest first")
	assert.EqualValues(t, 20, list[1].TickCount)

	limited := decode[[]db.SessionSummary](t, env.do(t, http.MethodGet, "/api/sessions?limit=1", nil))
	assert.Len(t, limited, 1)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/sessions?limit=x", nil).Code)

	detail := decode[SessionDetail](t, env.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil))
	assert.Equal(t, "bench", detail.Label)
	require.NotNil(t, detail.Summary)
	assert.Equal(t, 20, detail.Summary.Ticks)

	ticks := decode[[]db.TickRecord](t, env.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/ticks", nil))
	require.Len(t, ticks, 20)
	assert.EqualValues(t, 1, ticks[0].Tick)

	emptyTicks := env.do(t, http.MethodGet, "/api/sessions/"+empty.ID+"/ticks", nil)
	assert.Equal(t, "[]\n", emptyTicks.Body.String())

	sum := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/summary", nil))
	assert.EqualValues(t, 20, sum["ticks"])
	assert.EqualValues(t, 0, sum["emergency_ticks"])

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sessions/"+empty.ID+"/summary", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sessions/"+empty.ID+"/plot.png", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sessions/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sessions/missing/summary", nil).Code)
}

func TestSessionPlot(t *testing.T) {
	env := newTestEnv(t, true, 30)
	sess, err := env.store.StartSession("", "serial", nil, time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.NoError(t, env.store.RecordTicks(sess.ID, env.runner.History(0)))

	rec := env.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/plot.png", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")))
}

func TestComfortChart(t *testing.T) {
	env := newTestEnv(t, false, 10)

	rec := env.do(t, http.MethodGet, "/charts/comfort?n=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "echarts")
	assert.Contains(t, body, "Constraint proximity")
	assert.Contains(t, body, "last 5 ticks")

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/charts/comfort?n=-1", nil).Code)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, false, 3)
	env.runner.HandleLine("{not json}")

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "comfort_ticks_total 3")
	assert.Contains(t, body, `comfort_constraint_proximity{constraint="phase_coherence"}`)
	assert.True(t, strings.Contains(body, `comfort_frame_errors_total{reason="decode"} 1`), body)
}

func TestLoggingMiddleware(t *testing.T) {
	monitoring.SetDebug(false)
	lines := testutil.CaptureLogs(t)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/comfort?x=1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Len(t, *lines, 1, "metrics scrapes are debug-only")
	assert.Contains(t, (*lines)[0], "/api/comfort?x=1")
	assert.Contains(t, (*lines)[0], colorBoldRed+"418"+colorReset)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}
