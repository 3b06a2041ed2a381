package model

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sender validation modes.
const (
	SenderValidationAllowList = "allowlist"
	SenderValidationRemote    = "remote"
)

// Mail providers.
const (
	MailProviderGmail = "gmail"
	MailProviderIMAP  = "imap"
	MailProviderMbox  = "mbox"
)

// Ledger drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const (
	defaultSkewMinutes = 5
	defaultMaxAttempts = 5
	defaultTimeout     = 30 * time.Second
)

// startDateLayouts are the accepted forms of start_date, tried in order.
var startDateLayouts = []string{
	"2006/01/02",
	"2006-01-02",
	time.RFC3339,
	"2006/01/02 15:04:05",
}

// DBConfig holds the ledger store connection parameters.
type DBConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Path is the sqlite database file (or ":memory:").
	Path string `mapstructure:"path" yaml:"path"`

	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Name     string `mapstructure:"name" yaml:"name"`
}

// MailConfig selects and configures the mail source.
type MailConfig struct {
	// Provider is "gmail" (default), "imap" or "mbox".
	Provider string `mapstructure:"provider" yaml:"provider"`

	// CredentialsFile is the Gmail OAuth client secret JSON.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`

	// TokenKey is the keyring key holding the Gmail OAuth token.
	TokenKey string `mapstructure:"token_key" yaml:"token_key"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	Mailbox  string `mapstructure:"mailbox" yaml:"mailbox"`

	// MboxPath is the mbox file read by the mbox provider.
	MboxPath string `mapstructure:"mbox_path" yaml:"mbox_path"`
}

// ClassifyConfig controls the message classifier.
type ClassifyConfig struct {
	// FilterSubject enables the recognised-phrase subject filter.
	FilterSubject bool `mapstructure:"filter_subject" yaml:"filter_subject"`

	// AllowedSenders is the static sender allow-list. Matching is exact
	// and case-sensitive.
	AllowedSenders []string `mapstructure:"allowed_senders" yaml:"allowed_senders"`
}

// SenderValidationConfig selects the sender validator.
type SenderValidationConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// VerificationConfig configures the remote sender verification API.
type VerificationConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// UploadConfig configures the remote document upload sink.
type UploadConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`

	// ApplicantIDs maps a sender address to its loan applicant id.
	// Senders without an entry are uploaded under their address.
	ApplicantIDs map[string]string `mapstructure:"applicant_ids" yaml:"applicant_ids"`
}

// OutputConfig configures the local file sink.
type OutputConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// NotifyConfig holds settings shared by the outbound HTTP clients.
type NotifyConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LedgerConfig controls how records are committed.
type LedgerConfig struct {
	// Batch accumulates records and commits them in one transaction
	// at the end of the run.
	Batch bool `mapstructure:"batch" yaml:"batch"`
}

// RetryConfig controls retries of deferred messages.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the top-level application configuration. It is built once
// at startup and passed to every component; nothing mutates it later.
type Config struct {
	UserID  string `mapstructure:"user_id" yaml:"user_id"`
	LabelID string `mapstructure:"label_id" yaml:"label_id"`

	// StartDateRaw is the absolute lower bound as written in the file.
	StartDateRaw string `mapstructure:"start_date" yaml:"start_date"`

	// StartDate is StartDateRaw parsed in UTC.
	StartDate time.Time `mapstructure:"-" yaml:"-"`

	CronSkewMinutes int `mapstructure:"cron_skew_minutes" yaml:"cron_skew_minutes"`

	// HasAttachment adds the has:attachment filter to the query.
	HasAttachment bool `mapstructure:"has_attachment" yaml:"has_attachment"`

	DB               DBConfig               `mapstructure:"db" yaml:"db"`
	Mail             MailConfig             `mapstructure:"mail" yaml:"mail"`
	Classify         ClassifyConfig         `mapstructure:"classify" yaml:"classify"`
	SenderValidation SenderValidationConfig `mapstructure:"sender_validation" yaml:"sender_validation"`
	Verification     VerificationConfig     `mapstructure:"verification" yaml:"verification"`
	Upload           UploadConfig           `mapstructure:"upload" yaml:"upload"`
	Output           OutputConfig           `mapstructure:"output" yaml:"output"`
	Notify           NotifyConfig           `mapstructure:"notify" yaml:"notify"`
	Ledger           LedgerConfig           `mapstructure:"ledger" yaml:"ledger"`
	Retry            RetryConfig            `mapstructure:"retry" yaml:"retry"`
	Log              LogConfig              `mapstructure:"log" yaml:"log"`
}

// SkewMargin returns the time subtracted from the last ledger timestamp
// when computing the next window.
func (c *Config) SkewMargin() time.Duration {
	return time.Duration(c.CronSkewMinutes) * time.Minute
}

// LoadConfig reads configuration from the given YAML file using Viper.
// Every key can be overridden from the environment with the
// MAILINGEST_ prefix, e.g. MAILINGEST_DB_PASSWORD.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailingest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("user_id", "me")
	v.SetDefault("label_id", "")
	v.SetDefault("start_date", "")
	v.SetDefault("db.password", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("cron_skew_minutes", defaultSkewMinutes)
	v.SetDefault("has_attachment", true)
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.path", "mailingest.db")
	v.SetDefault("db.port", 3306)
	v.SetDefault("mail.provider", MailProviderGmail)
	v.SetDefault("mail.credentials_file", "credentials.json")
	v.SetDefault("mail.token_key", "gmail-token")
	v.SetDefault("mail.imap_port", "993")
	v.SetDefault("mail.tls", true)
	v.SetDefault("mail.mailbox", "INBOX")
	v.SetDefault("classify.filter_subject", true)
	v.SetDefault("sender_validation.mode", SenderValidationAllowList)
	v.SetDefault("output.enabled", true)
	v.SetDefault("output.dir", "files")
	v.SetDefault("upload.enabled", false)
	v.SetDefault("notify.timeout", defaultTimeout)
	v.SetDefault("retry.max_attempts", defaultMaxAttempts)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// normalize parses derived fields and rejects inconsistent settings.
func (c *Config) normalize() error {
	if c.StartDateRaw == "" {
		return errors.New("start_date is required")
	}
	start, err := ParseStartDate(c.StartDateRaw)
	if err != nil {
		return err
	}
	c.StartDate = start

	if c.CronSkewMinutes < 0 {
		return fmt.Errorf("cron_skew_minutes must not be negative, got %d", c.CronSkewMinutes)
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = defaultMaxAttempts
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = defaultTimeout
	}

	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return errors.New("db.path is required for sqlite")
		}
	case DriverMySQL:
		if c.DB.Host == "" || c.DB.Name == "" {
			return errors.New("db.host and db.name are required for mysql")
		}
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}

	switch c.Mail.Provider {
	case MailProviderGmail:
	case MailProviderIMAP:
		if c.Mail.IMAPHost == "" || c.Mail.Username == "" {
			return errors.New("mail.imap_host and mail.username are required for imap")
		}
	case MailProviderMbox:
		if c.Mail.MboxPath == "" {
			return errors.New("mail.mbox_path is required for mbox")
		}
	default:
		return fmt.Errorf("unsupported mail.provider %q", c.Mail.Provider)
	}

	switch c.SenderValidation.Mode {
	case SenderValidationAllowList:
	case SenderValidationRemote:
		if c.Verification.URL == "" {
			return errors.New("verification.url is required for remote sender validation")
		}
	default:
		return fmt.Errorf("unsupported sender_validation.mode %q", c.SenderValidation.Mode)
	}

	if c.Upload.Enabled && c.Upload.URL == "" {
		return errors.New("upload.url is required when upload is enabled")
	}
	if c.Output.Enabled && c.Output.Dir == "" {
		return errors.New("output.dir is required when output is enabled")
	}
	return nil
}

// ParseStartDate parses a configured start date in any accepted layout.
// Dates without a zone are taken as UTC.
func ParseStartDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range startDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("start_date %q: expected yyyy/mm/dd, yyyy-mm-dd or RFC3339", s)
}
