package checkpoint_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailingest/internal/checkpoint"
	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/tests/testutil"
)

type fixedLatest struct {
	t   time.Time
	ok  bool
	err error
}

func (f fixedLatest) MaxCreatedOn(context.Context) (time.Time, bool, error) {
	return f.t, f.ok, f.err
}

var (
	start = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	now   = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	skew  = 5 * time.Minute
)

func TestEffectiveWindowStart_EmptyLedger(t *testing.T) {
	s := checkpoint.New(testutil.NewTestStore(t), start, skew)

	w, err := s.EffectiveWindowStart(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, start, w.Start)
	assert.Equal(t, now, w.End)
	assert.False(t, w.FromLedger)
}

func TestEffectiveWindowStart(t *testing.T) {
	tests := []struct {
		name   string
		latest time.Time
		want   time.Time
	}{
		{
			name:   "recent ledger wins",
			latest: time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC),
			want:   time.Date(2024, 4, 30, 11, 55, 0, 0, time.UTC),
		},
		{
			name:   "stale ledger falls back to start",
			latest: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC),
			want:   start,
		},
		{
			name:   "within skew of start",
			latest: start.Add(3 * time.Minute),
			want:   start,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := checkpoint.New(fixedLatest{t: tt.latest, ok: true}, start, skew)

			w, err := s.EffectiveWindowStart(context.Background(), now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Start)
			assert.True(t, w.FromLedger)
		})
	}
}

func TestEffectiveWindowStart_FromStore(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := st.Append(ctx, model.ProcessingRecord{RunID: "r", UserID: "me", MessageID: "m1"})
	require.NoError(t, err)
	latest, ok, err := st.MaxCreatedOn(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	w, err := checkpoint.New(st, start, skew).EffectiveWindowStart(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(latest.Add(-skew)))
}

func TestEffectiveWindowStart_StoreError(t *testing.T) {
	s := checkpoint.New(fixedLatest{err: errors.New("connection refused")}, start, skew)

	_, err := s.EffectiveWindowStart(context.Background(), now)
	assert.ErrorContains(t, err, "connection refused")
}
