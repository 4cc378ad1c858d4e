package threads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/mailops/pkg/models"
)

// Dialect identifies the SQL flavor behind a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config holds database connection settings.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	Logger          *slog.Logger
}

// DefaultConfig returns a sqlite configuration rooted in the working directory.
func DefaultConfig() Config {
	return Config{
		Driver:          string(DialectSQLite),
		DSN:             "mailops.db",
		MaxOpenConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

// Open connects to the configured database and verifies the connection.
// Schema creation is left to the Migrator.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	dialect := Dialect(strings.ToLower(cfg.Driver))
	var driverName string
	switch dialect {
	case DialectSQLite:
		driverName = "sqlite"
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case DialectPostgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// A single long-lived connection keeps per-connection pragmas in
		// effect and avoids SQLITE_BUSY between writers.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	return NewSQLStore(db, dialect, cfg.Logger), nil
}

// NewSQLStore wraps an existing connection.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "threads"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying connection for the migrator.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect reports the SQL flavor of the store.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadByKey returns the thread with the exact key.
func (s *SQLStore) LoadByKey(ctx context.Context, threadKey string) (*models.ConversationThread, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, thread_key, history, version, created_at, updated_at
		FROM message_threads WHERE thread_key = ?
	`), threadKey)

	var (
		thread               models.ConversationThread
		history              string
		createdAt, updatedAt string
	)
	err := row.Scan(&thread.ID, &thread.ThreadKey, &history, &thread.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	thread.History = []byte(history)
	if thread.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if thread.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &thread, nil
}

// ListRecords returns a thread's exchange records in creation order.
func (s *SQLStore) ListRecords(ctx context.Context, threadID string) ([]models.ExchangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, thread_id, direction, participant_address, content, created_at
		FROM exchange_records WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
	`), threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchange records: %w", err)
	}
	defer rows.Close()

	var records []models.ExchangeRecord
	for rows.Next() {
		var (
			rec       models.ExchangeRecord
			direction string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &direction, &rec.ParticipantAddress, &rec.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange record: %w", err)
		}
		rec.Direction = models.Direction(direction)
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exchange records: %w", err)
	}
	return records, nil
}

// Commit persists the batch in a single transaction. A new thread is
// inserted; an existing one is updated only if its version still matches.
func (s *SQLStore) Commit(ctx context.Context, batch *Batch) (err error) {
	if batch == nil || batch.thread == nil {
		return fmt.Errorf("batch has no thread")
	}
	thread := batch.thread
	if strings.TrimSpace(thread.ThreadKey) == "" {
		return fmt.Errorf("thread key is required")
	}
	for _, rec := range batch.records {
		if !rec.Direction.Valid() {
			return fmt.Errorf("invalid exchange record direction %q", rec.Direction)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", "thread_key", thread.ThreadKey, "error", rbErr)
			}
		}
	}()

	now := s.now()
	history := string(batch.History())

	if thread.IsNew() {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO message_threads (id, thread_key, history, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), thread.ID, thread.ThreadKey, history, thread.Version+1, formatTime(thread.CreatedAt), formatTime(now))
		if err != nil {
			if isUniqueViolation(err) {
				err = ErrDuplicateKey
				return err
			}
			err = fmt.Errorf("failed to insert thread: %w", err)
			return err
		}
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE message_threads SET history = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`), history, formatTime(now), thread.ID, thread.Version)
		if err != nil {
			err = fmt.Errorf("failed to update thread: %w", err)
			return err
		}
		var affected int64
		affected, err = res.RowsAffected()
		if err != nil {
			err = fmt.Errorf("failed to read update result: %w", err)
			return err
		}
		if affected == 0 {
			err = ErrVersionConflict
			return err
		}
	}

	for _, rec := range batch.records {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO exchange_records (id, thread_id, direction, participant_address, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), rec.ID, thread.ID, string(rec.Direction), rec.ParticipantAddress, rec.Content, formatTime(rec.CreatedAt))
		if err != nil {
			err = fmt.Errorf("failed to insert exchange record: %w", err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("failed to commit transaction: %w", err)
		return err
	}

	batch.applied(now)
	s.logger.Debug("thread committed",
		"thread_key", thread.ThreadKey,
		"version", thread.Version,
		"records", len(batch.records),
	)
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
