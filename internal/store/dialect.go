package store

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailingest/internal/model"
)

// dialect holds the statements that differ between supported drivers.
type dialect struct {
	driver     string
	migrations []migration

	// insertRecord inserts a history row, silently skipping rows whose
	// message_id already exists.
	insertRecord string

	// upsertDeferred inserts a deferral or bumps its attempt counter.
	upsertDeferred string
}

const recordColumns = `run_id, user_id, message_id, history_id, email_subject, sender_id,
	valid_subject, valid_sender, attachment_present, valid_email, attachment_id`

var sqliteDialect = dialect{
	driver:     model.DriverSQLite,
	migrations: sqliteMigrations,
	insertRecord: `INSERT OR IGNORE INTO email_parsing_history (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	upsertDeferred: `INSERT INTO deferred_messages (message_id, stage, last_error, attempts, first_seen, last_seen)
	VALUES (?, ?, ?, 1, ?, ?)
	ON CONFLICT(message_id) DO UPDATE SET
		stage = excluded.stage,
		last_error = excluded.last_error,
		attempts = deferred_messages.attempts + 1,
		last_seen = excluded.last_seen`,
}

var mysqlDialect = dialect{
	driver:     model.DriverMySQL,
	migrations: mysqlMigrations,
	insertRecord: `INSERT INTO email_parsing_history (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE message_id = message_id`,
	upsertDeferred: `INSERT INTO deferred_messages (message_id, stage, last_error, attempts, first_seen, last_seen)
	VALUES (?, ?, ?, 1, ?, ?)
	ON DUPLICATE KEY UPDATE
		stage = VALUES(stage),
		last_error = VALUES(last_error),
		attempts = attempts + 1,
		last_seen = VALUES(last_seen)`,
}

// mysqlDSN builds a DSN that reads and writes timestamps in UTC.
func mysqlDSN(cfg model.DBConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = cfg.Name
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"time_zone": "'+00:00'"}
	return c.FormatDSN()
}

// timeLayouts are the textual timestamp forms drivers hand back.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// dbTime scans a timestamp regardless of whether the driver returns it
// as time.Time, string or []byte. Zone-less values are UTC.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var _ sql.Scanner = (*dbTime)(nil)

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
