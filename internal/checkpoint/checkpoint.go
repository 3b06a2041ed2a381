// Package checkpoint derives the time window a run should query from
// the history ledger.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/mailingest/internal/model"
)

// LatestSource reports the newest ledger timestamp. store.Ledger
// satisfies it.
type LatestSource interface {
	MaxCreatedOn(ctx context.Context) (time.Time, bool, error)
}

// Store computes effective window starts.
type Store struct {
	ledger LatestSource
	start  time.Time
	skew   time.Duration
}

// New returns a Store using start as the absolute floor and skew as the
// margin subtracted from the newest ledger timestamp.
func New(ledger LatestSource, start time.Time, skew time.Duration) *Store {
	return &Store{ledger: ledger, start: start.UTC(), skew: skew}
}

// EffectiveWindowStart returns the window for a run starting at now.
// With an empty ledger the window starts at the configured date;
// otherwise at max(start, newest created_on - skew).
func (s *Store) EffectiveWindowStart(ctx context.Context, now time.Time) (model.Window, error) {
	latest, ok, err := s.ledger.MaxCreatedOn(ctx)
	if err != nil {
		return model.Window{}, fmt.Errorf("computing window start: %w", err)
	}

	w := model.Window{Start: s.start, End: now.UTC()}
	if !ok {
		return w, nil
	}

	w.FromLedger = true
	if candidate := latest.UTC().Add(-s.skew); candidate.After(s.start) {
		w.Start = candidate
	}
	return w, nil
}
