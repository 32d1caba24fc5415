package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/db"
	"github.com/banshee-data/comfort.gate/internal/testutil"
)

func quietStdLog(t *testing.T) {
	t.Helper()
	prev := log.Writer()
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(prev) })
	testutil.QuietLogs(t)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_ReplayRecordsSession(t *testing.T) {
	quietStdLog(t)
	replayPath := writeFile(t, "frames.log", "# calm bench run\n"+testutil.CalmFrames(25))
	dbPath := filepath.Join(t.TempDir(), "comfort.db")
	listening := make(chan string, 1)

	errc := make(chan error, 1)
	go func() {
		errc <- run(context.Background(), options{
			Listen:    "127.0.0.1:0",
			Replay:    replayPath,
			DBPath:    dbPath,
			Label:     "bench",
			Rate:      90,
			ExitOnEOF: true,
			Listening: listening,
		})
	}()

	select {
	case addr := <-listening:
		assert.NotEmpty(t, addr)
	case err := <-errc:
		t.Fatalf("run returned before listening: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never started")
	}

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return at the end of the replay")
	}

	store, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer store.Close()

	sessions, err := store.ListSessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "bench", sessions[0].Label)
	assert.EqualValues(t, 25, sessions[0].TickCount)
	assert.NotNil(t, sessions[0].EndedUnix)

	sess, err := store.GetSession(sessions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "replay:"+replayPath, sess.Source)
	assert.Contains(t, string(sess.Config), `"thresholds"`)
}

func TestRun_ServesAPIUntilCanceled(t *testing.T) {
	quietStdLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listening := make(chan string, 1)

	errc := make(chan error, 1)
	go func() {
		errc <- run(ctx, options{Listen: "127.0.0.1:0", Rate: 90, Listening: listening})
	}()

	var addr string
	select {
	case addr = <-listening:
	case <-time.After(5 * time.Second):
		t.Fatal("server never started")
	}

	resp, err := http.Get("http://" + addr + "/api/comfort")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/api/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no -db")

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestLoadEngineConfig(t *testing.T) {
	quietStdLog(t)

	cfg, err := loadEngineConfig("")
	require.NoError(t, err)
	assert.Equal(t, crown.DefaultConfig(), cfg)

	path := writeFile(t, "tuning.json", `{"expected_tick_rate": 72}`)
	cfg, err = loadEngineConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 72, cfg.ExpectedTickRate, 0)

	_, err = loadEngineConfig(writeFile(t, "tuning.json", `{"expected_tick_rate": -1}`))
	assert.Error(t, err)
	_, err = loadEngineConfig(writeFile(t, "tuning.yaml", `{}`))
	assert.Error(t, err)
}

func TestOpenMux_Errors(t *testing.T) {
	quietStdLog(t)

	_, _, err := openMux(options{Replay: filepath.Join(t.TempDir(), "missing.log")})
	assert.Error(t, err)

	_, _, err = openMux(options{Replay: writeFile(t, "empty.log", "# only a comment\n")})
	assert.ErrorContains(t, err, "no lines")

	_, _, err = openMux(options{Port: "/dev/null", PortSpec: "fast"})
	assert.ErrorContains(t, err, "invalid baud rate")

	m, source, err := openMux(options{})
	require.NoError(t, err)
	assert.Equal(t, "idle", source)
	assert.NoError(t, m.Close())
}

func TestWritePortList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePortList(&buf, []string{"/dev/ttyUSB0", "/dev/ttyACM1"}))
	assert.Equal(t, "/dev/ttyUSB0\n/dev/ttyACM1\n", buf.String())

	buf.Reset()
	require.NoError(t, writePortList(&buf, nil))
	assert.Equal(t, "no serial ports found\n", buf.String())
}
