// Command mailingest polls a mailbox for document submissions, files
// their attachments and records every message it handled in a ledger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailingest/internal/logging"
	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/store"
	"github.com/nhle/mailingest/internal/sync"
	historyview "github.com/nhle/mailingest/internal/ui/history"
)

const usage = `usage: mailingest [-config path] [-watch interval] [command]

With -watch, SIGHUP starts a run immediately.

commands:
  run                 process new messages once (default)
  authorize           obtain a Gmail OAuth token and store it in the keyring
  history [-n N]      print the most recent ledger records
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code: 0 on success
// (including a run that found no messages), 1 on failure, 2 on misuse.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mailingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	configPath := fs.String("config", "config.yaml", "path to configuration file")
	watch := fs.Duration("watch", 0, "repeat runs on this interval until interrupted")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	command := "run"
	rest := fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	logger := logging.NewWithOutput(stderr, cfg.Log.Level, cfg.Log.Format)

	switch command {
	case "run":
		err = runIngest(ctx, cfg, logger, *watch, stdout)
	case "authorize":
		err = authorize(ctx, cfg, stdin, stdout)
	case "history":
		err = history(ctx, cfg, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", command, usage)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	if err != nil {
		logger.WithError(err).Error("mailingest failed")
		return 1
	}
	return 0
}

func runIngest(ctx context.Context, cfg *model.Config, logger *logrus.Logger, watch time.Duration, stdout io.Writer) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if watch > 0 {
		logger.WithField("interval", watch.String()).Info("watching mailbox")
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		return watchLoop(ctx, sync.New(app.runner, watch, logger), hup, logger)
	}

	res, err := app.runner.Run(ctx)
	if err != nil {
		return err
	}
	if res.NoMessages {
		fmt.Fprintln(stdout, "no messages")
	}
	return nil
}

// watchLoop runs p until ctx is done or a run fails fatally. Every value
// received on trigger (SIGHUP) starts a run without waiting for the next
// interval.
func watchLoop(ctx context.Context, p *sync.Poller, trigger <-chan os.Signal, logger logrus.FieldLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				logger.Info("run requested")
				p.Trigger()
			}
		}
	}()

	err := p.Run(ctx)

	st := p.Status()
	entry := logger.WithFields(logrus.Fields{"runs": st.Runs, "state": st.State.String()})
	if st.LastResult != nil {
		entry = entry.WithField("last_run_id", st.LastResult.RunID)
	}
	if st.Error != nil {
		entry = entry.WithError(st.Error)
	}
	entry.Info("watch stopped")
	return err
}

func history(ctx context.Context, cfg *model.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	n := fs.Int("n", 20, "number of records to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := resolveSecrets(cfg, nil); err != nil {
		return err
	}
	st, err := store.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.ListRecords(ctx, *n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, historyview.Render(recs))
	return err
}
