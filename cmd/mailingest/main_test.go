package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailingest/internal/credential"
	"github.com/nhle/mailingest/internal/ingest"
	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/sink"
	"github.com/nhle/mailingest/internal/sync"
)

const mboxFixture = "From john@x.com Mon Jan  2 10:00:00 2023\n" +
	"From: John Doe <john@x.com>\n" +
	"Subject: KYC Document - PAN\n" +
	"Date: Mon, 2 Jan 2023 10:00:00 +0000\n" +
	"Message-Id: <pan-1@x.com>\n" +
	"MIME-Version: 1.0\n" +
	"Content-Type: multipart/mixed; boundary=\"B\"\n" +
	"\n" +
	"--B\n" +
	"Content-Type: text/plain\n" +
	"\n" +
	"attached\n" +
	"--B\n" +
	"Content-Type: image/png\n" +
	"Content-Disposition: attachment; filename=\"pan.png\"\n" +
	"Content-Transfer-Encoding: base64\n" +
	"\n" +
	"UE5H\n" +
	"--B--\n"

type fixture struct {
	dir    string
	config string
	mbox   string
}

func newFixture(t *testing.T, mboxContent string) fixture {
	t.Helper()

	dir := t.TempDir()
	f := fixture{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		mbox:   filepath.Join(dir, "inbox.mbox"),
	}
	require.NoError(t, os.WriteFile(f.mbox, []byte(mboxContent), 0o600))

	cfg := fmt.Sprintf(`start_date: 2023/01/01
db:
  path: %s
mail:
  provider: mbox
  mbox_path: %s
classify:
  allowed_senders:
    - john@x.com
output:
  enabled: true
  dir: %s
log:
  level: error
`, filepath.Join(dir, "ledger.db"), f.mbox, filepath.Join(dir, "files"))
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o600))
	return f
}

func execute(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &bytes.Buffer{}, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_NoMessages(t *testing.T) {
	f := newFixture(t, "")

	code, stdout, stderr := execute("-config", f.config, "run")
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "no messages")
}

func TestRun_ExtractsAndRecords(t *testing.T) {
	f := newFixture(t, mboxFixture)

	code, _, stderr := execute("-config", f.config)
	require.Equal(t, 0, code, stderr)

	name := sink.FileName(sink.Document{
		SenderEmail: "john@x.com",
		MessageID:   "pan-1@x.com",
		Attachment:  model.AttachmentRef{Extension: ".png"},
	})
	data, err := os.ReadFile(filepath.Join(f.dir, "files", name))
	require.NoError(t, err)
	assert.Equal(t, "PNG", string(data))

	code, stdout, stderr := execute("-config", f.config, "history", "-n", "5")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "pan-1@x.com")
	assert.Contains(t, stdout, "KYC Document - PAN")

	// A second run finds the message already recorded.
	code, _, stderr = execute("-config", f.config, "run")
	assert.Equal(t, 0, code, stderr)
}

func TestRun_Usage(t *testing.T) {
	f := newFixture(t, "")

	code, _, stderr := execute("-config", f.config, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown command")

	code, _, _ = execute("-bogus")
	assert.Equal(t, 2, code)
}

func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user_id: me\n"), 0o600))

	code, _, stderr := execute("-config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "start_date")
}

func TestNewSinks(t *testing.T) {
	log, hook := test.NewNullLogger()

	cfg := &model.Config{}
	assert.Empty(t, newSinks(cfg, log))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	hook.Reset()

	cfg.Output = model.OutputConfig{Enabled: true, Dir: "files"}
	cfg.Upload = model.UploadConfig{Enabled: true, URL: "http://upload.invalid"}
	sinks := newSinks(cfg, log)
	require.Len(t, sinks, 2)
	assert.Equal(t, "file", sinks[0].Name())
	assert.Equal(t, "upload", sinks[1].Name())
	assert.Empty(t, hook.AllEntries())
}

func TestResolveSecrets_PlainValuesUntouched(t *testing.T) {
	cfg := &model.Config{}
	cfg.DB.Password = "plain"

	opened := false
	err := resolveSecrets(cfg, func() (*credential.Store, error) {
		opened = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Equal(t, "plain", cfg.DB.Password)
}

func TestResolveSecrets_KeyringReference(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "imap-password", Data: []byte("s3cret")}})
	creds := credential.NewStore(ring)

	cfg := &model.Config{}
	cfg.Mail.Password = "keyring:imap-password"
	cfg.DB.Password = "keyring:missing"

	err := resolveSecrets(cfg, func() (*credential.Store, error) { return creds, nil })
	assert.Error(t, err)
	assert.Equal(t, "keyring:missing", cfg.DB.Password)

	cfg.DB.Password = ""
	require.NoError(t, resolveSecrets(cfg, func() (*credential.Store, error) { return creds, nil }))
	assert.Equal(t, "s3cret", cfg.Mail.Password)
}

type stopAfterRunner struct {
	calls  int
	stopAt int
	cancel context.CancelFunc
}

func (r *stopAfterRunner) Run(context.Context) (*ingest.Result, error) {
	r.calls++
	if r.calls == r.stopAt {
		r.cancel()
	}
	return &ingest.Result{RunID: fmt.Sprintf("run-%d", r.calls)}, nil
}

func TestWatchLoop_SignalTriggersRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &stopAfterRunner{stopAt: 2, cancel: cancel}
	log, hook := test.NewNullLogger()

	trigger := make(chan os.Signal, 1)
	trigger <- syscall.SIGHUP

	require.NoError(t, watchLoop(ctx, sync.New(runner, time.Hour, log), trigger, log))
	assert.Equal(t, 2, runner.calls)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "watch stopped", last.Message)
	assert.Equal(t, 2, last.Data["runs"])
	assert.Equal(t, "idle", last.Data["state"])
	assert.Equal(t, "run-2", last.Data["last_run_id"])
}
