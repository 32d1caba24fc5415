// Command comfort-report summarizes a recorded comfort session and renders
// its timeline, reading either the session database or a running comfortd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/db"
	"github.com/banshee-data/comfort.gate/internal/httputil"
	"github.com/banshee-data/comfort.gate/internal/report"
)

// latest selects the most recently started session.
const latest = "latest"

// sessionSource is where sessions are read from.
type sessionSource interface {
	List(ctx context.Context, limit int) ([]db.SessionSummary, error)
	Load(ctx context.Context, id string) (*db.Session, []db.TickRecord, error)
}

type dbSource struct{ db *db.DB }

func (s dbSource) List(_ context.Context, limit int) ([]db.SessionSummary, error) {
	return s.db.ListSessions(limit)
}

func (s dbSource) Load(_ context.Context, id string) (*db.Session, []db.TickRecord, error) {
	sess, err := s.db.GetSession(id)
	if err != nil {
		return nil, nil, err
	}
	ticks, err := s.db.SessionTicks(id)
	return sess, ticks, err
}

// httpSource reads sessions from the API of a running daemon.
type httpSource struct {
	base   string
	client httputil.HTTPClient
}

func (s httpSource) List(ctx context.Context, limit int) ([]db.SessionSummary, error) {
	var out []db.SessionSummary
	err := httputil.GetJSON(ctx, s.client, fmt.Sprintf("%s/api/sessions?limit=%d", s.base, limit), &out)
	return out, err
}

func (s httpSource) Load(ctx context.Context, id string) (*db.Session, []db.TickRecord, error) {
	var sess db.Session
	u := s.base + "/api/sessions/" + url.PathEscape(id)
	if err := httputil.GetJSON(ctx, s.client, u, &sess); err != nil {
		return nil, nil, err
	}
	var ticks []db.TickRecord
	if err := httputil.GetJSON(ctx, s.client, u+"/ticks", &ticks); err != nil {
		return nil, nil, err
	}
	return &sess, ticks, nil
}

func main() {
	log.SetFlags(0)
	if err := run(context.Background(), os.Args[1:], os.Stdout, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("comfort-report: %v", err)
	}
}

// run parses args and writes the report to out. client is used for -server
// and may be nil.
func run(ctx context.Context, args []string, out io.Writer, client httputil.HTTPClient) error {
	fs := flag.NewFlagSet("comfort-report", flag.ContinueOnError)
	dbPath := fs.String("db", "", "Session database written by comfortd")
	server := fs.String("server", "", "Base URL of a running comfortd, e.g. http://localhost:8080")
	sessionID := fs.String("session", latest, `Session to report ("latest" for the newest)`)
	list := fs.Bool("list", false, "List sessions instead of reporting one")
	limit := fs.Int("limit", 20, "Sessions shown by -list")
	pngPath := fs.String("png", "", "Write the session timeline to this PNG file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var src sessionSource
	switch {
	case *dbPath != "" && *server != "":
		return errors.New("use either -db or -server, not both")
	case *dbPath != "":
		if _, err := os.Stat(*dbPath); err != nil {
			return err
		}
		store, err := db.OpenDB(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		src = dbSource{store}
	case *server != "":
		src = httpSource{base: strings.TrimRight(*server, "/"), client: client}
	default:
		return errors.New("one of -db or -server is required")
	}

	if *list {
		sessions, err := src.List(ctx, *limit)
		if err != nil {
			return err
		}
		return writeSessionList(out, sessions)
	}

	id := *sessionID
	if id == latest {
		sessions, err := src.List(ctx, 1)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			return errors.New("no sessions recorded")
		}
		id = sessions[0].ID
	}
	sess, ticks, err := src.Load(ctx, id)
	if err != nil {
		return err
	}
	outputs := make([]crown.Output, len(ticks))
	for i := range ticks {
		outputs[i] = ticks[i].Output
	}
	sum, err := report.Summarize(outputs)
	if err != nil {
		return fmt.Errorf("session %s: %w", sess.ID, err)
	}

	fmt.Fprintf(out, "session %s", sess.ID)
	if sess.Label != "" {
		fmt.Fprintf(out, " (%s)", sess.Label)
	}
	fmt.Fprintf(out, " from %s, started %s\n", sess.Source, formatUnix(sess.StartedUnix))
	if err := sum.WriteText(out); err != nil {
		return err
	}

	if *pngPath != "" {
		title := sess.Label
		if title == "" {
			title = sess.ID
		}
		if err := report.SaveSessionPNG(*pngPath, title, outputs); err != nil {
			return err
		}
		fmt.Fprintf(out, "plot written to %s\n", *pngPath)
	}
	return nil
}

func writeSessionList(w io.Writer, sessions []db.SessionSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSTARTED\tTICKS\tMEAN\tMIN\tEMERGENCY")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
			s.ID, s.Label, formatUnix(s.StartedUnix), s.TickCount,
			formatOptional(s.MeanEffectiveComfort), formatOptional(s.MinEffectiveComfort), s.EmergencyTicks)
	}
	return tw.Flush()
}

func formatUnix(sec float64) string {
	return time.Unix(0, int64(sec*1e9)).UTC().Format(time.RFC3339)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}
