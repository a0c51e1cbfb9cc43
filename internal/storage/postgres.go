package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

//go:embed postgres.sql
var postgresSchema string

// pgStore keeps the schedule table in PostgreSQL. args_kwargs is JSONB.
type pgStore struct {
	pool   *pgxpool.Pool
	log    logx.Logger
	signal scheduler.Signal
}

var (
	_ scheduler.Backend    = (*pgStore)(nil)
	_ scheduler.Lister     = (*pgStore)(nil)
	_ scheduler.Maintainer = (*pgStore)(nil)
)

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*pgStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	st := &pgStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("postgres storage ready", logx.String("host", pcfg.ConnConfig.Host), logx.String("database", pcfg.ConnConfig.Database))
	return st, nil
}

func (s *pgStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *pgStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *pgStore) Available() <-chan struct{} { return s.signal.Wait() }

const pgColumns = `id, expires, created, event, args_kwargs`

func scanPG(sc interface{ Scan(dest ...any) error }) (row, error) {
	var r row
	err := sc.Scan(&r.ID, &r.Expires, &r.Created, &r.Event, &r.ArgsKwargs)
	return r, err
}

func (s *pgStore) Earliest(ctx context.Context) (scheduler.Entry, bool, error) {
	if s == nil || s.pool == nil {
		return scheduler.Entry{}, false, ErrDisabled
	}
	s.signal.Clear()
	r, err := scanPG(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM schedule ORDER BY expires, id LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return scheduler.Entry{}, false, nil
	}
	if err != nil {
		return scheduler.Entry{}, false, fmt.Errorf("postgres: earliest: %w", err)
	}
	s.signal.Set()
	return r.entryLogged(s.log), true, nil
}

func (s *pgStore) Insert(ctx context.Context, e scheduler.Entry) (scheduler.Entry, error) {
	if s == nil || s.pool == nil {
		return scheduler.Entry{}, ErrDisabled
	}
	r, err := toRow(e)
	if err != nil {
		return scheduler.Entry{}, err
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO schedule (expires, created, event, args_kwargs) VALUES ($1, $2, $3, $4) RETURNING id`,
		r.Expires.UTC(), r.Created.UTC(), r.Event, string(r.ArgsKwargs),
	).Scan(&id)
	if err != nil {
		return scheduler.Entry{}, fmt.Errorf("postgres: insert: %w", err)
	}
	s.signal.Set()
	return e.WithID(id), nil
}

func (s *pgStore) Delete(ctx context.Context, e scheduler.Entry) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if e.ID == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM schedule WHERE id = $1`, e.ID); err != nil {
		return fmt.Errorf("postgres: delete %d: %w", e.ID, err)
	}
	return nil
}

func (s *pgStore) List(ctx context.Context, f scheduler.Filter) ([]scheduler.Entry, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	q := `SELECT ` + pgColumns + ` FROM schedule`
	var args []any
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		q += fmt.Sprintf(` WHERE event = $%d`, len(args))
	}
	if f.UserID != 0 {
		args = append(args, f.UserID)
		// only the typed kinds carry a user id
		cond := fmt.Sprintf(`event IN ('reminder_complete', 'mute_complete', 'tempban_complete') AND (args_kwargs->'kwargs'->>'user_id')::bigint = $%d`, len(args))
		if f.Kind != "" {
			q += ` AND ` + cond
		} else {
			q += ` WHERE ` + cond
		}
	}
	q += ` ORDER BY expires, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	var out []scheduler.Entry
	for rows.Next() {
		r, err := scanPG(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list scan: %w", err)
		}
		out = append(out, r.entryLogged(s.log))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	return out, nil
}

// Maintain checks the pool is still connected.
func (s *pgStore) Maintain(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	return s.pool.Ping(ctx)
}
