package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shehryarbajwa/browsergate/pkg/models"
)

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	timeout_seconds INTEGER NOT NULL,
	current_url     TEXT NOT NULL DEFAULT '',
	live_view_url   TEXT NOT NULL DEFAULT '',
	connect_url     TEXT NOT NULL DEFAULT '',
	container_id    TEXT NOT NULL DEFAULT '',
	browser_name    TEXT NOT NULL DEFAULT '',
	browser_version TEXT NOT NULL DEFAULT ''
)`

// Postgres keeps session records in a sessions table, keyed by id.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection, and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, sessionsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure sessions table: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Save(ctx context.Context, s *models.Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, status, created_at, expires_at, timeout_seconds,
			current_url, live_view_url, connect_url, container_id,
			browser_name, browser_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			timeout_seconds = EXCLUDED.timeout_seconds,
			current_url = EXCLUDED.current_url,
			live_view_url = EXCLUDED.live_view_url,
			connect_url = EXCLUDED.connect_url,
			container_id = EXCLUDED.container_id,
			browser_name = EXCLUDED.browser_name,
			browser_version = EXCLUDED.browser_version`,
		s.ID, s.Status, s.CreatedAt, s.ExpiresAt, s.Timeout,
		s.CurrentURL, s.LiveViewURL, s.ConnectURL, s.ContainerID,
		s.BrowserInfo.Name, s.BrowserInfo.Version,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*models.Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, status, created_at, expires_at, timeout_seconds,
			current_url, live_view_url, connect_url, container_id,
			browser_name, browser_version
		FROM sessions WHERE id = $1`, id)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

func (p *Postgres) List(ctx context.Context) ([]*models.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, status, created_at, expires_at, timeout_seconds,
			current_url, live_view_url, connect_url, container_id,
			browser_name, browser_version
		FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.Status, &s.CreatedAt, &s.ExpiresAt, &s.Timeout,
		&s.CurrentURL, &s.LiveViewURL, &s.ConnectURL, &s.ContainerID,
		&s.BrowserInfo.Name, &s.BrowserInfo.Version)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
