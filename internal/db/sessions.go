package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/comfort.gate/internal/crown"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Session is one recorded run of the engine.
type Session struct {
	ID          string          `json:"session_id"`
	Label       string          `json:"label"`
	Source      string          `json:"source"`
	Config      json.RawMessage `json:"config,omitempty"`
	StartedUnix float64         `json:"started_unix"`
	EndedUnix   *float64        `json:"ended_unix,omitempty"`
	TickCount   int64           `json:"tick_count"`
}

// SessionSummary is a row of the session_summary view.
type SessionSummary struct {
	ID                   string   `json:"session_id"`
	Label                string   `json:"label"`
	StartedUnix          float64  `json:"started_unix"`
	EndedUnix            *float64 `json:"ended_unix,omitempty"`
	TickCount            int64    `json:"tick_count"`
	MeanEffectiveComfort *float64 `json:"mean_effective_comfort,omitempty"`
	MinEffectiveComfort  *float64 `json:"min_effective_comfort,omitempty"`
	EmergencyTicks       int64    `json:"emergency_ticks"`
}

// TickRecord is one persisted engine output.
type TickRecord struct {
	RecordedUnix float64 `json:"recorded_unix"`
	crown.Output
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// StartSession creates a session with a fresh UUID. config is the JSON
// tuning in effect; nil stores an empty object.
func (db *DB) StartSession(label, source string, config []byte, started time.Time) (*Session, error) {
	if len(config) == 0 {
		config = []byte("{}")
	}
	if !json.Valid(config) {
		return nil, fmt.Errorf("session config is not valid JSON")
	}
	s := &Session{
		ID:          uuid.NewString(),
		Label:       label,
		Source:      source,
		Config:      json.RawMessage(config),
		StartedUnix: unixSeconds(started),
	}
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, label, source, config_json, started_unix)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Label, s.Source, string(config), s.StartedUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end time of a session.
func (db *DB) EndSession(id string, ended time.Time) error {
	res, err := db.Exec(`UPDATE sessions SET ended_unix = ? WHERE session_id = ?`, unixSeconds(ended), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// GetSession returns one session including its tick count.
func (db *DB) GetSession(id string) (*Session, error) {
	var (
		s      Session
		config string
		ended  sql.NullFloat64
	)
	err := db.QueryRow(`
		SELECT s.session_id, s.label, s.source, s.config_json, s.started_unix, s.ended_unix,
		       (SELECT COUNT(*) FROM ticks t WHERE t.session_id = s.session_id)
		FROM sessions s WHERE s.session_id = ?`, id).
		Scan(&s.ID, &s.Label, &s.Source, &config, &s.StartedUnix, &ended, &s.TickCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	s.Config = json.RawMessage(config)
	if ended.Valid {
		s.EndedUnix = &ended.Float64
	}
	return &s, nil
}

// ListSessions returns the most recent sessions first. limit <= 0 returns
// every session.
func (db *DB) ListSessions(limit int) ([]SessionSummary, error) {
	query := `
		SELECT session_id, label, started_unix, ended_unix, tick_count,
		       mean_effective_comfort, min_effective_comfort, emergency_ticks
		FROM session_summary
		ORDER BY started_unix DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			s             SessionSummary
			ended         sql.NullFloat64
			mean, minimum sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &s.Label, &s.StartedUnix, &ended, &s.TickCount,
			&mean, &minimum, &s.EmergencyTicks); err != nil {
			return nil, err
		}
		if ended.Valid {
			s.EndedUnix = &ended.Float64
		}
		if mean.Valid {
			s.MeanEffectiveComfort = &mean.Float64
		}
		if minimum.Valid {
			s.MinEffectiveComfort = &minimum.Float64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its ticks.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// tickColumns lists the ticks columns in scan order after session_id.
func tickColumns() []string {
	cols := []string{"tick", "recorded_unix", "dt", "raw_comfort", "effective_comfort", "confidence", "gain"}
	for i := 0; i < crown.NumConstraints; i++ {
		cols = append(cols, "r_"+crown.Constraint(i).String())
	}
	for i := 0; i < crown.NumConstraints; i++ {
		cols = append(cols, "w_"+crown.Constraint(i).String())
	}
	for _, ch := range crown.Channels() {
		cols = append(cols, "mu_"+ch.String())
	}
	for i := 0; i < crown.NumFactors; i++ {
		cols = append(cols, "f_"+crown.Factor(i).String())
	}
	return append(cols, "bottleneck", "emergency")
}

func tickValues(r *TickRecord) []any {
	o := &r.Output
	vals := []any{int64(o.Tick), r.RecordedUnix, o.Dt, o.RawComfort, o.EffectiveComfort, o.Confidence, o.Gain}
	for _, v := range o.Proximities {
		vals = append(vals, v)
	}
	for _, v := range o.Weights {
		vals = append(vals, v)
	}
	for _, v := range o.Channels {
		vals = append(vals, v)
	}
	for _, v := range o.Factors {
		vals = append(vals, v)
	}
	emergency := 0
	if o.Emergency {
		emergency = 1
	}
	return append(vals, o.Bottleneck.String(), emergency)
}

// RecordTicks appends ticks to a session in one transaction.
func (db *DB) RecordTicks(sessionID string, ticks []TickRecord) error {
	if len(ticks) == 0 {
		return nil
	}
	cols := tickColumns()
	query := fmt.Sprintf("INSERT INTO ticks (session_id, %s) VALUES (?%s)",
		strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)))

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range ticks {
		args := append([]any{sessionID}, tickValues(&ticks[i])...)
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("failed to record tick %d: %w", ticks[i].Tick, err)
		}
	}
	return tx.Commit()
}

// SessionTicks returns every tick of a session in tick order.
func (db *DB) SessionTicks(sessionID string) ([]TickRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM ticks WHERE session_id = ? ORDER BY tick",
		strings.Join(tickColumns(), ", "))
	rows, err := db.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var (
			r          TickRecord
			tick       int64
			bottleneck string
			emergency  int64
		)
		o := &r.Output
		dest := []any{&tick, &r.RecordedUnix, &o.Dt, &o.RawComfort, &o.EffectiveComfort, &o.Confidence, &o.Gain}
		for i := range o.Proximities {
			dest = append(dest, &o.Proximities[i])
		}
		for i := range o.Weights {
			dest = append(dest, &o.Weights[i])
		}
		for i := range o.Channels {
			dest = append(dest, &o.Channels[i])
		}
		for i := range o.Factors {
			dest = append(dest, &o.Factors[i])
		}
		dest = append(dest, &bottleneck, &emergency)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		o.Tick = uint64(tick)
		o.Threat = 1 - o.RawComfort
		o.Emergency = emergency != 0
		if o.Bottleneck, err = crown.ParseBottleneck(bottleneck); err != nil {
			return nil, fmt.Errorf("tick %d: %w", tick, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
