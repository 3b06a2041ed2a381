package ingest

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailingest/internal/model"
)

// Result summarises one run.
type Result struct {
	RunID  string
	Window model.Window

	// NoMessages is set when the mail source and the deferral queue
	// yielded no candidates. It is a clean outcome, not an error.
	NoMessages bool

	Candidates int
	// Skipped counts candidates already present in the ledger.
	Skipped    int
	Processed  int
	Actionable int
	Extracted  int
	// Deferred counts messages left for a later run after a transient
	// failure; Abandoned counts those written as partial records after
	// exhausting their attempts.
	Deferred  int
	Abandoned int
	// Failed counts messages that could be neither processed nor
	// deferred.
	Failed         int
	SinkFailures   int
	AppendFailures int
	Duplicates     int
	Appended       int

	Started  time.Time
	Finished time.Time
}

// Fields returns the counters as log fields.
func (r *Result) Fields() logrus.Fields {
	return logrus.Fields{
		"candidates":      r.Candidates,
		"skipped":         r.Skipped,
		"processed":       r.Processed,
		"actionable":      r.Actionable,
		"extracted":       r.Extracted,
		"deferred":        r.Deferred,
		"abandoned":       r.Abandoned,
		"failed":          r.Failed,
		"sink_failures":   r.SinkFailures,
		"append_failures": r.AppendFailures,
		"duplicates":      r.Duplicates,
		"appended":        r.Appended,
		"window_start":    r.Window.Start.Format(time.RFC3339),
		"duration":        r.Finished.Sub(r.Started).String(),
	}
}
