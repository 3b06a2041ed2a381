package store

// migration holds a single schema migration with its target version and
// the statements that apply it. Statements are executed one at a time so
// drivers without multi-statement support work too.
type migration struct {
	version int
	stmts   []string
}

const schemaVersionDDL = `CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
)`

// sqliteMigrations is the ordered list of schema migrations for SQLite.
// Each migration's version must be sequential starting from 1.
var sqliteMigrations = []migration{
	{
		version: 1,
		stmts: []string{`
CREATE TABLE IF NOT EXISTS email_parsing_history (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id             TEXT NOT NULL DEFAULT '',
	user_id            TEXT NOT NULL,
	message_id         TEXT NOT NULL,
	history_id         INTEGER NOT NULL DEFAULT 0,
	email_subject      TEXT NOT NULL DEFAULT '',
	sender_id          TEXT NOT NULL DEFAULT '',
	valid_subject      INTEGER NOT NULL DEFAULT 0 CHECK(valid_subject IN (0, 1)),
	valid_sender       INTEGER NOT NULL DEFAULT 0 CHECK(valid_sender IN (0, 1)),
	attachment_present INTEGER NOT NULL DEFAULT 0 CHECK(attachment_present IN (0, 1)),
	valid_email        INTEGER NOT NULL DEFAULT 0 CHECK(valid_email IN (0, 1)),
	attachment_id      TEXT NOT NULL DEFAULT '',
	created_on         DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_history_message_id ON email_parsing_history(message_id)`,
			`CREATE INDEX IF NOT EXISTS idx_history_created_on ON email_parsing_history(created_on)`,
			`INSERT INTO schema_version (version) VALUES (1)`,
		},
	},
	{
		version: 2,
		stmts: []string{`
CREATE TABLE IF NOT EXISTS deferred_messages (
	message_id TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 1,
	first_seen DATETIME NOT NULL,
	last_seen  DATETIME NOT NULL
)`,
			`INSERT INTO schema_version (version) VALUES (2)`,
		},
	},
}

// mysqlMigrations mirrors sqliteMigrations for MySQL.
var mysqlMigrations = []migration{
	{
		version: 1,
		stmts: []string{`
CREATE TABLE IF NOT EXISTS email_parsing_history (
	id                 BIGINT AUTO_INCREMENT PRIMARY KEY,
	run_id             VARCHAR(36) NOT NULL DEFAULT '',
	user_id            VARCHAR(255) NOT NULL,
	message_id         VARCHAR(255) NOT NULL,
	history_id         BIGINT UNSIGNED NOT NULL DEFAULT 0,
	email_subject      TEXT NOT NULL,
	sender_id          VARCHAR(320) NOT NULL DEFAULT '',
	valid_subject      TINYINT(1) NOT NULL DEFAULT 0,
	valid_sender       TINYINT(1) NOT NULL DEFAULT 0,
	attachment_present TINYINT(1) NOT NULL DEFAULT 0,
	valid_email        TINYINT(1) NOT NULL DEFAULT 0,
	attachment_id      VARCHAR(1024) NOT NULL DEFAULT '',
	created_on         DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	UNIQUE KEY ux_history_message_id (message_id),
	KEY idx_history_created_on (created_on)
) CHARACTER SET utf8mb4`,
			`INSERT INTO schema_version (version) VALUES (1)`,
		},
	},
	{
		version: 2,
		stmts: []string{`
CREATE TABLE IF NOT EXISTS deferred_messages (
	message_id VARCHAR(255) NOT NULL PRIMARY KEY,
	stage      VARCHAR(64) NOT NULL,
	last_error TEXT NOT NULL,
	attempts   INT NOT NULL DEFAULT 1,
	first_seen DATETIME(3) NOT NULL,
	last_seen  DATETIME(3) NOT NULL
) CHARACTER SET utf8mb4`,
			`INSERT INTO schema_version (version) VALUES (2)`,
		},
	},
}
