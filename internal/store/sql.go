package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailingest/internal/model"
)

// SQLStore implements Store on top of a SQL database via sqlx.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

// Open connects to the ledger database described by cfg and applies any
// pending schema migrations. Any error here is fatal for a run.
func Open(cfg model.DBConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case model.DriverMySQL:
		return NewMySQLStore(cfg)
	case model.DriverSQLite, "":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: keeps ":memory:" databases coherent and
	// serializes writers within the process.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Overlapping runs wait for each other's write lock instead of
	// failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return newSQLStore(db, sqliteDialect)
}

// NewMySQLStore connects to MySQL and runs any pending migrations.
func NewMySQLStore(cfg model.DBConfig) (*SQLStore, error) {
	db, err := sqlx.Open("mysql", mysqlDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening mysql db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to mysql %s: %w", cfg.Host, err)
	}

	return newSQLStore(db, mysqlDialect)
}

func newSQLStore(db *sqlx.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLStore) runMigrations() error {
	if _, err := s.db.Exec(schemaVersionDDL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion := 0
	err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range s.dialect.migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func (s *SQLStore) applyMigration(m migration) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// HasBeenProcessed reports whether a history row exists for messageID.
func (s *SQLStore) HasBeenProcessed(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM email_parsing_history WHERE message_id = ?", messageID,
	)
	if err != nil {
		return false, fmt.Errorf("checking history for %s: %w", messageID, err)
	}
	return n > 0, nil
}

// Append inserts one history row. A row that collides with an existing
// message_id is skipped and reported as inserted=false.
func (s *SQLStore) Append(ctx context.Context, rec model.ProcessingRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.insertRecord, recordArgs(rec)...)
	if err != nil {
		return false, fmt.Errorf("appending history for %s: %w", rec.MessageID, err)
	}
	return inserted(res)
}

// AppendBatch inserts recs in a single transaction.
func (s *SQLStore) AppendBatch(ctx context.Context, recs []model.ProcessingRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, s.dialect.insertRecord)
	if err != nil {
		return 0, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, rec := range recs {
		res, err := stmt.ExecContext(ctx, recordArgs(rec)...)
		if err != nil {
			return 0, fmt.Errorf("appending history for %s: %w", rec.MessageID, err)
		}
		ok, err := inserted(res)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing history batch: %w", err)
	}
	return count, nil
}

// MaxCreatedOn returns the newest created_on in the ledger.
func (s *SQLStore) MaxCreatedOn(ctx context.Context) (time.Time, bool, error) {
	var latest dbTime
	err := s.db.QueryRowxContext(ctx,
		"SELECT MAX(created_on) FROM email_parsing_history",
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading latest created_on: %w", err)
	}
	return latest.Time, latest.Valid, nil
}

const selectRecord = `SELECT id, run_id, user_id, message_id, history_id, email_subject, sender_id,
	valid_subject, valid_sender, attachment_present, valid_email, attachment_id, created_on
	FROM email_parsing_history`

// GetRecord retrieves the history row for messageID.
func (s *SQLStore) GetRecord(ctx context.Context, messageID string) (*model.ProcessingRecord, error) {
	row := s.db.QueryRowxContext(ctx, selectRecord+" WHERE message_id = ?", messageID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting history for %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting history for %s: %w", messageID, err)
	}
	return &rec, nil
}

// ListRecords returns the most recent history rows, newest first.
func (s *SQLStore) ListRecords(ctx context.Context, limit int) ([]model.ProcessingRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx, selectRecord+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var recs []model.ProcessingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeferMessage records a failed processing attempt for messageID and
// returns the total number of attempts so far.
func (s *SQLStore) DeferMessage(ctx context.Context, messageID, stage string, cause error) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.dialect.upsertDeferred, messageID, stage, msg, now, now)
	if err != nil {
		return 0, fmt.Errorf("deferring %s: %w", messageID, err)
	}

	var attempts int
	err = s.db.GetContext(ctx, &attempts,
		"SELECT attempts FROM deferred_messages WHERE message_id = ?", messageID,
	)
	if err != nil {
		return 0, fmt.Errorf("reading attempts for %s: %w", messageID, err)
	}
	return attempts, nil
}

// DeferredMessages lists all pending deferrals, oldest first.
func (s *SQLStore) DeferredMessages(ctx context.Context) ([]model.DeferredMessage, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT message_id, stage, last_error, attempts, first_seen, last_seen
		FROM deferred_messages ORDER BY first_seen, message_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying deferred messages: %w", err)
	}
	defer rows.Close()

	var deferred []model.DeferredMessage
	for rows.Next() {
		var (
			d         model.DeferredMessage
			firstSeen dbTime
			lastSeen  dbTime
		)
		if err := rows.Scan(&d.MessageID, &d.Stage, &d.LastError, &d.Attempts, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning deferred message: %w", err)
		}
		d.FirstSeen = firstSeen.Time
		d.LastSeen = lastSeen.Time
		deferred = append(deferred, d)
	}
	return deferred, rows.Err()
}

// ClearDeferred removes the deferral for messageID, if any.
func (s *SQLStore) ClearDeferred(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM deferred_messages WHERE message_id = ?", messageID)
	if err != nil {
		return fmt.Errorf("clearing deferral for %s: %w", messageID, err)
	}
	return nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a history row selected with selectRecord.
func scanRecord(row rowScanner) (model.ProcessingRecord, error) {
	var (
		rec       model.ProcessingRecord
		createdOn dbTime
	)

	err := row.Scan(
		&rec.ID, &rec.RunID, &rec.UserID, &rec.MessageID, &rec.HistoryID,
		&rec.Subject, &rec.SenderEmail,
		&rec.SubjectMatched, &rec.SenderValid, &rec.AttachmentPresent, &rec.EmailValid,
		&rec.AttachmentID, &createdOn,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ProcessingRecord{}, err
		}
		return model.ProcessingRecord{}, fmt.Errorf("scanning history row: %w", err)
	}

	rec.CreatedOn = createdOn.Time
	return rec, nil
}

func recordArgs(rec model.ProcessingRecord) []any {
	return []any{
		rec.RunID, rec.UserID, rec.MessageID, rec.HistoryID, rec.Subject, rec.SenderEmail,
		boolToInt(rec.SubjectMatched), boolToInt(rec.SenderValid),
		boolToInt(rec.AttachmentPresent), boolToInt(rec.EmailValid),
		rec.AttachmentID,
	}
}

func inserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// boolToInt converts a boolean to 0 or 1 for storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
