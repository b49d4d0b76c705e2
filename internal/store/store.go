// Package store keeps chat users and the recognition job journal in SQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// ErrUserNotFound is returned when no row matches a telegram login.
var ErrUserNotFound = errors.New("user not found")

// Job statuses.
const (
	JobPending = "pending"
	JobDone    = "done"
	JobFailed  = "failed"
)

// User is a row of the users table.
type User struct {
	Telegram  string
	ChatID    int64
	UpdatedAt time.Time
}

// Job is one recognition attempt made on behalf of a user.
type Job struct {
	ID            string
	User          string
	ObjectKey     string
	OperationID   string
	Status        string
	TranscriptLen int
	Error         string
	CreatedAt     time.Time
	FinishedAt    time.Time
}

// Store wraps a SQL database holding users and recognition jobs.
type Store struct {
	db      *sql.DB
	dialect dialect
	cfg     config.StoreConfig
	log     *slog.Logger
	clock   func() time.Time
}

// Open connects to the configured database and prepares the schema.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		d = sqliteDialect
		db, err = openSQLite(cfg.Path)
	case "mysql":
		d = mysqlDialect
		db, err = openMySQL(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}

	s := &Store{db: db, dialect: d, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart && d.vacuum != "" {
		if _, err := db.ExecContext(ctx, d.vacuum); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// openMySQL forces clientFoundRows so an UPDATE that leaves a row unchanged
// still reports it as matched.
func openMySQL(dsn string) (*sql.DB, error) {
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mcfg.ClientFoundRows = true
	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddUser registers a telegram login. Existing rows are left untouched.
func (s *Store) AddUser(ctx context.Context, telegram string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.insertUser, telegram, s.now())
	return err
}

// GetUser loads a user by telegram login.
func (s *Store) GetUser(ctx context.Context, telegram string) (User, error) {
	var (
		u       User
		chatID  sql.NullInt64
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT telegram, tg_chat_id, updated_at FROM users WHERE telegram = ?`, telegram,
	).Scan(&u.Telegram, &chatID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.ChatID = chatID.Int64
	u.UpdatedAt = time.UnixMilli(updated).UTC()
	return u, nil
}

// UpdateChatID stores the chat id for an existing user. found is false when
// the login is not registered.
func (s *Store) UpdateChatID(ctx context.Context, telegram string, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET tg_chat_id = ?, updated_at = ? WHERE telegram = ?`,
		chatID, s.now(), telegram)
	if err != nil {
		return false, fmt.Errorf("update chat id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// StartJob journals a pending recognition job.
func (s *Store) StartJob(ctx context.Context, job Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recognition_jobs(id, telegram, object_key, operation_id, status, transcript_len, error, created_at, finished_at)
		 VALUES(?, ?, ?, ?, ?, 0, '', ?, 0)`,
		job.ID, job.User, job.ObjectKey, job.OperationID, job.Status, job.CreatedAt.UnixMilli())
	return err
}

// FinishJob records the outcome of a journaled job.
func (s *Store) FinishJob(ctx context.Context, id, status, operationID string, transcriptLen int, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recognition_jobs SET status = ?, operation_id = ?, transcript_len = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, operationID, transcriptLen, errText, s.now(), id)
	return err
}

// ListJobs returns up to limit jobs, newest first. An empty user lists everyone's jobs.
func (s *Store) ListJobs(ctx context.Context, user string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, telegram, object_key, operation_id, status, transcript_len, error, created_at, finished_at
		FROM recognition_jobs`
	args := []any{}
	if user != "" {
		query += ` WHERE telegram = ?`
		args = append(args, user)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j                 Job
			created, finished int64
		)
		if err := rows.Scan(&j.ID, &j.User, &j.ObjectKey, &j.OperationID, &j.Status, &j.TranscriptLen, &j.Error, &created, &finished); err != nil {
			return nil, err
		}
		j.CreatedAt = time.UnixMilli(created).UTC()
		if finished > 0 {
			j.FinishedAt = time.UnixMilli(finished).UTC()
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Prune applies the configured retention to the job journal.
func (s *Store) Prune(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM recognition_jobs WHERE created_at < ?`, cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxJobs > 0 {
		var oldestKept int64
		err = tx.QueryRowContext(ctx,
			`SELECT created_at FROM recognition_jobs ORDER BY created_at DESC LIMIT 1 OFFSET ?`, s.cfg.MaxJobs-1,
		).Scan(&oldestKept)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = nil
		case err != nil:
			return err
		default:
			if _, err = tx.ExecContext(ctx, `DELETE FROM recognition_jobs WHERE created_at < ?`, oldestKept); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) now() int64 {
	return s.clock().UnixMilli()
}
