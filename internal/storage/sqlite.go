package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the schedule table in a single SQLite file.
// Timestamps are stored as unix milliseconds.
type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	signal scheduler.Signal
}

var (
	_ scheduler.Backend    = (*sqliteStore)(nil)
	_ scheduler.Lister     = (*sqliteStore)(nil)
	_ scheduler.Maintainer = (*sqliteStore)(nil)
)

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite storage ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Available() <-chan struct{} { return s.signal.Wait() }

func (s *sqliteStore) Earliest(ctx context.Context) (scheduler.Entry, bool, error) {
	if s == nil || s.db == nil {
		return scheduler.Entry{}, false, ErrDisabled
	}
	s.signal.Clear()
	var (
		r                row
		expires, created int64
		blob             string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, expires, created, event, args_kwargs FROM schedule ORDER BY expires, id LIMIT 1`,
	).Scan(&r.ID, &expires, &created, &r.Event, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.Entry{}, false, nil
	}
	if err != nil {
		return scheduler.Entry{}, false, fmt.Errorf("sqlite earliest: %w", err)
	}
	s.signal.Set()
	r.Expires, r.Created, r.ArgsKwargs = unixMilli(expires), unixMilli(created), []byte(blob)
	return r.entryLogged(s.log), true, nil
}

func (s *sqliteStore) Insert(ctx context.Context, e scheduler.Entry) (scheduler.Entry, error) {
	if s == nil || s.db == nil {
		return scheduler.Entry{}, ErrDisabled
	}
	r, err := toRow(e)
	if err != nil {
		return scheduler.Entry{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule(expires, created, event, args_kwargs) VALUES(?,?,?,?)`,
		r.Expires.UnixMilli(), r.Created.UnixMilli(), r.Event, string(r.ArgsKwargs),
	)
	if err != nil {
		return scheduler.Entry{}, fmt.Errorf("sqlite insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return scheduler.Entry{}, fmt.Errorf("sqlite insert id: %w", err)
	}
	s.signal.Set()
	return e.WithID(id), nil
}

func (s *sqliteStore) Delete(ctx context.Context, e scheduler.Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.ID == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedule WHERE id = ?`, e.ID); err != nil {
		return fmt.Errorf("sqlite delete %d: %w", e.ID, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context, f scheduler.Filter) ([]scheduler.Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT id, expires, created, event, args_kwargs FROM schedule`
	var args []any
	if f.Kind != "" {
		q += ` WHERE event = ?`
		args = append(args, string(f.Kind))
	}
	q += ` ORDER BY expires, id`
	pushed := f.UserID == 0
	if pushed && f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	} else if pushed && f.Offset > 0 {
		q += ` LIMIT -1 OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer rows.Close()

	var out []scheduler.Entry
	for rows.Next() {
		var (
			r                row
			expires, created int64
			blob             string
		)
		if err := rows.Scan(&r.ID, &expires, &created, &r.Event, &blob); err != nil {
			return nil, fmt.Errorf("sqlite list scan: %w", err)
		}
		r.Expires, r.Created, r.ArgsKwargs = unixMilli(expires), unixMilli(created), []byte(blob)
		out = append(out, r.entryLogged(s.log))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	if pushed {
		return out, nil
	}
	return page(out, f), nil
}

// Maintain folds the WAL back into the main database file.
func (s *sqliteStore) Maintain(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sqlite checkpoint: %w", err)
	}
	return nil
}
