// Package api serves the comfort engine over HTTP: live outputs for
// consumers, recorded sessions, charts and Prometheus metrics.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/comfort.gate/internal/config"
	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/db"
	"github.com/banshee-data/comfort.gate/internal/httputil"
	"github.com/banshee-data/comfort.gate/internal/monitoring"
	"github.com/banshee-data/comfort.gate/internal/session"
	"github.com/banshee-data/comfort.gate/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// maxConfigBody bounds PUT /api/config bodies.
const maxConfigBody = 1 << 20

// Source is the live engine behind the API. *session.Runner satisfies it.
type Source interface {
	Status() session.Status
	Latest() crown.Output
	Proximity(i int) (float64, error)
	History(n int) []db.TickRecord
	Config() crown.Config
	Reconfigure(crown.Config) error
	Reset()
}

// SessionStore reads recorded sessions. *db.DB satisfies it.
type SessionStore interface {
	ListSessions(limit int) ([]db.SessionSummary, error)
	GetSession(id string) (*db.Session, error)
	SessionTicks(id string) ([]db.TickRecord, error)
}

type Server struct {
	src      Source
	store    SessionStore
	gatherer prometheus.Gatherer
}

// NewServer builds a server. store may be nil when nothing is recorded;
// gatherer defaults to the Prometheus default registry.
func NewServer(src Source, store SessionStore, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{src: src, store: store, gatherer: gatherer}
}

// ServeMux returns the routes of the API.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/comfort", s.showComfort)
	mux.HandleFunc("GET /api/status", s.showStatus)
	mux.HandleFunc("GET /api/proximity", s.showProximity)
	mux.HandleFunc("GET /api/history", s.showHistory)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("PUT /api/config", s.updateConfig)
	mux.HandleFunc("POST /api/reset", s.reset)
	mux.HandleFunc("GET /api/version", s.showVersion)

	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.showSession)
	mux.HandleFunc("GET /api/sessions/{id}/ticks", s.showSessionTicks)
	mux.HandleFunc("GET /api/sessions/{id}/summary", s.showSessionSummary)
	mux.HandleFunc("GET /api/sessions/{id}/plot.png", s.showSessionPlot)

	mux.HandleFunc("GET /charts/comfort", s.comfortChart)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ComfortResponse is the consumer-facing view of one tick.
type ComfortResponse struct {
	Tick             uint64           `json:"tick"`
	EffectiveComfort float64          `json:"effective_comfort"`
	RawComfort       float64          `json:"raw_comfort"`
	Threat           float64          `json:"threat"`
	Confidence       float64          `json:"confidence"`
	Gain             float64          `json:"gain"`
	Emergency        bool             `json:"emergency"`
	Bottleneck       crown.Bottleneck `json:"bottleneck"`
}

func (s *Server) showComfort(w http.ResponseWriter, r *http.Request) {
	o := s.src.Latest()
	httputil.WriteJSONOK(w, ComfortResponse{
		Tick:             o.Tick,
		EffectiveComfort: o.EffectiveComfort,
		RawComfort:       o.RawComfort,
		Threat:           o.Threat,
		Confidence:       o.Confidence,
		Gain:             o.Gain,
		Emergency:        o.Emergency,
		Bottleneck:       o.Bottleneck,
	})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.src.Status())
}

func (s *Server) showProximity(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("i")
	if raw == "" {
		all := s.src.Latest().Proximities
		byName := make(map[string]float64, len(all))
		for i, v := range all {
			byName[crown.Constraint(i).String()] = v
		}
		httputil.WriteJSONOK(w, byName)
		return
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid constraint index %q", raw))
		return
	}
	p, err := s.src.Proximity(i)
	if errors.Is(err, crown.ErrRange) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"index":      i,
		"constraint": crown.Constraint(i).String(),
		"proximity":  p,
	})
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.src.History(n))
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, config.FromEngineConfig(s.src.Config()))
}

// updateConfig replaces the tuning. Fields missing from the body take their
// defaults, exactly as when loading a tuning file.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody+1))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(body) > maxConfigBody {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "config too large")
		return
	}
	tuning, err := config.ParseTuningConfig(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cfg, err := tuning.EngineConfig()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.src.Reconfigure(cfg); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	monitoring.Logf("api: tuning replaced (%d fields set)", len(tuning.SetKeys()))
	httputil.WriteJSONOK(w, config.FromEngineConfig(s.src.Config()))
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.src.Reset()
	httputil.WriteJSONOK(w, s.src.Latest())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
// Scrapes of /metrics are only logged in debug mode.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf := monitoring.Logf
		if r.URL.Path == "/metrics" {
			logf = monitoring.Debugf
		}
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
