package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/db"
	"github.com/banshee-data/comfort.gate/internal/httputil"
	"github.com/banshee-data/comfort.gate/internal/report"
)

// defaultSessionLimit caps GET /api/sessions when no limit is given.
const defaultSessionLimit = 50

// SessionDetail is a session row together with its computed summary.
type SessionDetail struct {
	db.Session
	Summary *report.Summary `json:"summary,omitempty"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.Unavailable(w, "session recording is disabled")
		return
	}
	limit, err := intParam(r, "limit", defaultSessionLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := s.store.ListSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.SessionSummary{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// sessionOrError resolves the {id} path value and writes the error response
// itself when the session cannot be served.
func (s *Server) sessionOrError(w http.ResponseWriter, r *http.Request) *db.Session {
	if s.store == nil {
		httputil.Unavailable(w, "session recording is disabled")
		return nil
	}
	id := r.PathValue("id")
	sess, err := s.store.GetSession(id)
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, fmt.Sprintf("session %q not found", id))
		return nil
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil
	}
	return sess
}

// outputsOrError loads the ticks of a session as engine outputs.
func (s *Server) outputsOrError(w http.ResponseWriter, sess *db.Session) ([]crown.Output, bool) {
	ticks, err := s.store.SessionTicks(sess.ID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load ticks: %v", err))
		return nil, false
	}
	return outputs(ticks), true
}

func outputs(ticks []db.TickRecord) []crown.Output {
	out := make([]crown.Output, len(ticks))
	for i := range ticks {
		out[i] = ticks[i].Output
	}
	return out
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionOrError(w, r)
	if sess == nil {
		return
	}
	outs, ok := s.outputsOrError(w, sess)
	if !ok {
		return
	}
	detail := SessionDetail{Session: *sess}
	if sum, err := report.Summarize(outs); err == nil {
		detail.Summary = &sum
	}
	httputil.WriteJSONOK(w, detail)
}

func (s *Server) showSessionTicks(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionOrError(w, r)
	if sess == nil {
		return
	}
	ticks, err := s.store.SessionTicks(sess.ID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load ticks: %v", err))
		return
	}
	if ticks == nil {
		ticks = []db.TickRecord{}
	}
	httputil.WriteJSONOK(w, ticks)
}

func (s *Server) showSessionSummary(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionOrError(w, r)
	if sess == nil {
		return
	}
	outs, ok := s.outputsOrError(w, sess)
	if !ok {
		return
	}
	sum, err := report.Summarize(outs)
	if errors.Is(err, report.ErrNoTicks) {
		httputil.NotFound(w, fmt.Sprintf("session %q has no ticks", sess.ID))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, sum)
}

func (s *Server) showSessionPlot(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionOrError(w, r)
	if sess == nil {
		return
	}
	outs, ok := s.outputsOrError(w, sess)
	if !ok {
		return
	}
	if len(outs) == 0 {
		httputil.NotFound(w, fmt.Sprintf("session %q has no ticks", sess.ID))
		return
	}
	title := sess.Label
	if title == "" {
		title = sess.ID
	}
	var buf bytes.Buffer
	if err := report.WriteSessionPNG(&buf, title, outs); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
