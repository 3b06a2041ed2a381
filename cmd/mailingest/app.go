package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/nhle/mailingest/internal/checkpoint"
	"github.com/nhle/mailingest/internal/classify"
	"github.com/nhle/mailingest/internal/credential"
	"github.com/nhle/mailingest/internal/extract"
	"github.com/nhle/mailingest/internal/ingest"
	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/notify"
	"github.com/nhle/mailingest/internal/sink"
	"github.com/nhle/mailingest/internal/source"
	gmailsrc "github.com/nhle/mailingest/internal/source/gmail"
	imapsrc "github.com/nhle/mailingest/internal/source/imap"
	"github.com/nhle/mailingest/internal/source/mbox"
	"github.com/nhle/mailingest/internal/store"
	authprompt "github.com/nhle/mailingest/internal/ui/authorize"
)

// app holds the wired components of the run command.
type app struct {
	store  *store.SQLStore
	runner *ingest.Runner
}

func (a *app) Close() error {
	return a.store.Close()
}

// credOpener opens the keyring on first use.
type credOpener func() (*credential.Store, error)

func lazyCredentials() credOpener {
	var (
		creds *credential.Store
		err   error
	)
	return func() (*credential.Store, error) {
		if creds == nil && err == nil {
			creds, err = credential.Open()
		}
		return creds, err
	}
}

func newApp(ctx context.Context, cfg *model.Config, logger *logrus.Logger) (*app, error) {
	creds := lazyCredentials()
	if err := resolveSecrets(cfg, creds); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	src, err := newSource(ctx, cfg, creds)
	if err != nil {
		st.Close()
		return nil, err
	}

	runner := ingest.NewRunner(ingest.Deps{
		Source:     src,
		Store:      st,
		Window:     checkpoint.New(st, cfg.StartDate, cfg.SkewMargin()),
		Classifier: classify.New(cfg.Classify.FilterSubject, classify.DefaultPhrases),
		Validator:  newValidator(cfg, logger),
		Fetcher:    extract.New(src, cfg.UserID),
		Sinks:      newSinks(cfg, logger),
	}, ingest.Options{
		UserID:        cfg.UserID,
		LabelID:       cfg.LabelID,
		HasAttachment: cfg.HasAttachment,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		Batch:         cfg.Ledger.Batch,
	}, logger)

	return &app{store: st, runner: runner}, nil
}

// resolveSecrets replaces keyring references in cfg with their values.
func resolveSecrets(cfg *model.Config, open credOpener) error {
	if open == nil {
		open = lazyCredentials()
	}
	for _, secret := range []*string{&cfg.DB.Password, &cfg.Mail.Password} {
		if !credential.IsRef(*secret) {
			continue
		}
		creds, err := open()
		if err != nil {
			return err
		}
		value, err := creds.Resolve(*secret)
		if err != nil {
			return err
		}
		*secret = value
	}
	return nil
}

func newSource(ctx context.Context, cfg *model.Config, open credOpener) (source.Source, error) {
	switch cfg.Mail.Provider {
	case model.MailProviderIMAP:
		return imapsrc.NewClient(
			cfg.Mail.IMAPHost, cfg.Mail.IMAPPort,
			cfg.Mail.Username, cfg.Mail.Password,
			cfg.Mail.TLS, cfg.Mail.Mailbox,
		), nil
	case model.MailProviderMbox:
		return mbox.NewReader(cfg.Mail.MboxPath), nil
	case model.MailProviderGmail:
		return newGmailSource(ctx, cfg, open)
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.Mail.Provider)
	}
}

func newGmailSource(ctx context.Context, cfg *model.Config, open credOpener) (source.Source, error) {
	oauthCfg, err := gmailsrc.OAuthConfig(cfg.Mail.CredentialsFile)
	if err != nil {
		return nil, err
	}

	creds, err := open()
	if err != nil {
		return nil, err
	}
	tok, err := creds.LoadToken(cfg.Mail.TokenKey)
	if err != nil {
		return nil, &source.AuthError{
			Provider: model.MailProviderGmail,
			Message:  fmt.Sprintf("no usable token (%v); run `mailingest authorize`", err),
		}
	}

	ts := creds.PersistingTokenSource(cfg.Mail.TokenKey, oauthCfg.TokenSource(ctx, tok), tok)
	return gmailsrc.NewClient(ctx, oauth2.NewClient(ctx, ts))
}

func newValidator(cfg *model.Config, logger logrus.FieldLogger) classify.SenderValidator {
	if cfg.SenderValidation.Mode == model.SenderValidationRemote {
		client := notify.NewClient("verification", cfg.Notify.Timeout, logger)
		return notify.NewVerifier(client, cfg.Verification.URL)
	}
	return classify.NewAllowList(cfg.Classify.AllowedSenders)
}

func newSinks(cfg *model.Config, logger logrus.FieldLogger) []sink.Sink {
	var sinks []sink.Sink
	if cfg.Output.Enabled {
		sinks = append(sinks, sink.NewFileSink(cfg.Output.Dir))
	}
	if cfg.Upload.Enabled {
		client := notify.NewClient("upload", cfg.Notify.Timeout, logger)
		sinks = append(sinks, sink.NewUploadSink(
			notify.NewUploader(client, cfg.Upload.URL), cfg.Upload.ApplicantIDs, classify.DefaultPhrases,
		))
	}
	if len(sinks) == 0 {
		logger.Warn("no sink enabled; extracted attachments will be discarded")
	}
	return sinks
}

// authorize runs the OAuth consent flow on the terminal and stores the
// resulting token in the keyring.
func authorize(ctx context.Context, cfg *model.Config, stdin io.Reader, stdout io.Writer) error {
	oauthCfg, err := gmailsrc.OAuthConfig(cfg.Mail.CredentialsFile)
	if err != nil {
		return err
	}

	authURL := oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	code, err := authprompt.Prompt(authURL, stdin, stdout, !isTerminal(stdin))
	if err != nil {
		return err
	}

	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	creds, err := credential.Open()
	if err != nil {
		return err
	}
	if err := creds.SaveToken(cfg.Mail.TokenKey, tok); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "token stored in keyring as %q\n", cfg.Mail.TokenKey)
	return nil
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
