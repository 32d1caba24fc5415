// Command comfortd reads frames from a hardware monitor (or a replay log),
// drives the comfort engine, records every tick and serves the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/comfort.gate/internal/api"
	"github.com/banshee-data/comfort.gate/internal/config"
	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/db"
	"github.com/banshee-data/comfort.gate/internal/monitoring"
	"github.com/banshee-data/comfort.gate/internal/serialmux"
	"github.com/banshee-data/comfort.gate/internal/session"
	"github.com/banshee-data/comfort.gate/internal/timeutil"
	"github.com/banshee-data/comfort.gate/internal/version"
)

var (
	listen         = flag.String("listen", ":8080", "HTTP listen address")
	port           = flag.String("port", "", "Serial device of the hardware monitor")
	portSpec       = flag.String("port-spec", "", `Serial framing, e.g. "115200,8N1"`)
	replay         = flag.String("replay", "", "Replay frames from this log instead of a serial port")
	replayInterval = flag.Duration("replay-interval", 11*time.Millisecond, "Delay between replayed lines")
	loop           = flag.Bool("loop", false, "Restart the replay log at EOF")
	dbPath         = flag.String("db", "comfort.db", `Session database ("" disables recording)`)
	label          = flag.String("label", "", "Label stored with the recorded session")
	configPath     = flag.String("config", "", "Tuning JSON file, reloaded on change")
	rate           = flag.Float64("rate", 90, "Frame rate requested from the monitor (Hz)")
	debug          = flag.Bool("debug", false, "Log every monitor line and metrics scrape")
	showVersion    = flag.Bool("version", false, "Print version and exit")
	listPorts      = flag.Bool("list-ports", false, "List serial devices and exit")
)

// options is everything run needs; main fills it from flags.
type options struct {
	Listen         string
	Port           string
	PortSpec       string
	Replay         string
	ReplayInterval time.Duration
	Loop           bool
	DBPath         string
	Label          string
	ConfigPath     string
	Rate           float64
	// ExitOnEOF stops the daemon when a non-looping replay ends.
	ExitOnEOF bool
	// Listening, when set, receives the bound address once the server is up.
	Listening chan<- string
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	if *listPorts {
		if err := printPorts(os.Stdout); err != nil {
			log.Fatalf("comfortd: %v", err)
		}
		return
	}
	monitoring.SetDebug(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		Listen:         *listen,
		Port:           *port,
		PortSpec:       *portSpec,
		Replay:         *replay,
		ReplayInterval: *replayInterval,
		Loop:           *loop,
		DBPath:         *dbPath,
		Label:          *label,
		ConfigPath:     *configPath,
		Rate:           *rate,
	})
	if err != nil {
		log.Fatalf("comfortd: %v", err)
	}
}

// printPorts writes one serial device per line, for choosing -port.
func printPorts(w io.Writer) error {
	ports, err := serialmux.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}
	return writePortList(w, ports)
}

func writePortList(w io.Writer, ports []string) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "no serial ports found")
		return err
	}
	for _, p := range ports {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}

// openMux selects the frame source: a replay log, a serial port, or nothing.
func openMux(o options) (serialmux.Mux, string, error) {
	switch {
	case o.Replay != "":
		f, err := os.Open(o.Replay)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open replay log: %w", err)
		}
		defer f.Close()
		m, err := serialmux.NewReplaySerialMux(f, o.ReplayInterval, o.Loop, timeutil.RealClock{})
		if err != nil {
			return nil, "", err
		}
		return m, "replay:" + o.Replay, nil
	case o.Port != "":
		popts, err := serialmux.ParsePortSpec(o.PortSpec)
		if err != nil {
			return nil, "", err
		}
		m, err := serialmux.NewRealSerialMux(o.Port, popts)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open serial port: %w", err)
		}
		return m, "serial:" + o.Port, nil
	default:
		log.Print("no -port or -replay given; serving the API without input")
		return serialmux.NewIdleMux(), "idle", nil
	}
}

// loadEngineConfig returns the tuning from path, or the defaults.
func loadEngineConfig(path string) (crown.Config, error) {
	if path == "" {
		return crown.DefaultConfig(), nil
	}
	tuning, err := config.LoadTuningConfig(path)
	if err != nil {
		return crown.Config{}, err
	}
	log.Printf("loaded tuning from %s (%d fields set)", path, len(tuning.SetKeys()))
	return tuning.EngineConfig()
}

func run(ctx context.Context, o options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := loadEngineConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	engine, err := crown.NewEngine(cfg)
	if err != nil {
		return err
	}

	mux, source, err := openMux(o)
	if err != nil {
		return err
	}
	defer mux.Close()

	var wg sync.WaitGroup

	var reloads <-chan config.Reload
	if o.ConfigPath != "" {
		w, err := config.NewWatcher(o.ConfigPath, 0)
		if err != nil {
			return err
		}
		reloads = w.Updates()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("config watcher stopped: %v", err)
			}
		}()
	}

	var store *db.DB
	var sess *db.Session
	if o.DBPath != "" {
		store, err = db.NewDB(o.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
		snapshot, err := json.Marshal(config.FromEngineConfig(cfg))
		if err != nil {
			return err
		}
		sess, err = store.StartSession(o.Label, source, snapshot, time.Now())
		if err != nil {
			return err
		}
		log.Printf("recording session %s to %s", sess.ID, store.Path())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ropts := session.Options{Metrics: monitoring.NewMetrics(reg), Reloads: reloads}
	var sessions api.SessionStore
	if store != nil {
		ropts.SessionID = sess.ID
		ropts.Recorder = store
		sessions = store
	}
	runner := session.NewRunner(mux, engine, ropts)

	httpMux := api.NewServer(runner, sessions, reg).ServeMux()
	mux.AttachAdminRoutes(httpMux)
	if store != nil {
		if err := store.AttachAdminRoutes(httpMux); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", o.Listen)
	if err != nil {
		return err
	}
	server := &http.Server{Handler: api.LoggingMiddleware(httpMux)}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()
	log.Printf("listening on %s", ln.Addr())
	if o.Listening != nil {
		o.Listening <- ln.Addr().String()
	}

	runnerDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(runnerDone)
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("runner stopped: %v", err)
		}
		log.Print("runner routine terminated")
	}()

	// The first replayed lines are lost if the monitor starts before the
	// runner has subscribed.
	select {
	case <-runner.Ready():
	case <-ctx.Done():
	}

	var runErr error
	if source != "idle" {
		if err := mux.Initialize(o.Rate); err != nil {
			runErr = fmt.Errorf("failed to initialize monitor: %w", err)
			cancel()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := mux.Monitor(ctx)
		switch {
		case err == nil:
			log.Print("monitor reached end of input")
			if o.ExitOnEOF {
				// Closing the mux ends the runner once it has drained.
				mux.Close()
			}
		case !errors.Is(err, context.Canceled):
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	select {
	case <-ctx.Done():
	case <-runnerDone:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	cancel()
	wg.Wait()

	if sess != nil {
		if err := store.EndSession(sess.ID, time.Now()); err != nil {
			log.Printf("failed to end session %s: %v", sess.ID, err)
		}
		st := runner.Status()
		log.Printf("session %s ended after %d ticks (%d frame errors)", sess.ID, st.Ticks, st.FrameErrors)
	}
	return runErr
}
