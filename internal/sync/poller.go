// Package sync repeats ingestion runs on an interval for the -watch
// mode of the CLI.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailingest/internal/ingest"
	"github.com/nhle/mailingest/internal/source"
)

// State is the current state of the poller.
type State int

const (
	Idle State = iota
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Status describes the most recent run.
type Status struct {
	State      State
	Runs       int
	LastRun    time.Time
	LastResult *ingest.Result
	Error      error
}

// Runner performs a single ingestion run. ingest.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// Poller runs a Runner immediately and then once per interval. Runs
// never overlap: a tick that arrives mid-run is dropped.
type Poller struct {
	runner    Runner
	interval  time.Duration
	log       logrus.FieldLogger
	triggerCh chan struct{}

	mu     gosync.Mutex
	status Status
}

// New returns a Poller. A non-positive interval defaults to 5 minutes.
func New(runner Runner, interval time.Duration, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		runner:    runner,
		interval:  interval,
		log:       log,
		triggerCh: make(chan struct{}, 1),
	}
}

// Run blocks until ctx is done or a run fails with an auth error,
// which further runs cannot fix. Other run errors are logged and the
// loop continues.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.runOnce(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.triggerCh:
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := p.runOnce(ctx); err != nil {
			return err
		}
	}
}

// Trigger requests an immediate run without waiting for the next tick.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A run is already pending.
	}
}

// Status returns a copy of the current status.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) runOnce(ctx context.Context) error {
	p.setState(Running, nil, nil)

	res, err := p.runner.Run(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		p.setState(Idle, res, nil)
		return nil
	}
	if err != nil {
		p.setState(Failed, res, err)
		if source.IsAuthError(err) {
			return err
		}
		p.log.WithError(err).Error("run failed; retrying next interval")
		return nil
	}

	p.setState(Idle, res, nil)
	return nil
}

func (p *Poller) setState(state State, res *ingest.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	if state == Running {
		return
	}
	p.status.Runs++
	p.status.LastRun = time.Now()
	p.status.LastResult = res
	p.status.Error = err
}
