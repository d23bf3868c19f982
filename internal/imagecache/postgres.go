package imagecache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresBackend stores entries in the image_cache table; created_at is
// indexed for expiry sweeps.
type PostgresBackend struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

// NewPostgresBackend connects to dsn and applies pending migrations.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	const op = "imagecache.NewPostgresBackend"
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &PostgresBackend{pool: pool, db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Close() {
	_ = p.db.Close()
	p.pool.Close()
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	e := Entry{Key: key}
	var params []byte
	err := p.pool.QueryRow(ctx,
		`SELECT prompt, model_id, params, url, created_at FROM image_cache WHERE cache_key = $1`, key,
	).Scan(&e.Prompt, &e.ModelID, &params, &e.URL, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.Params = params
	return e, true, nil
}

func (p *PostgresBackend) Put(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO image_cache (cache_key, prompt, model_id, params, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cache_key) DO UPDATE
		SET prompt = EXCLUDED.prompt, model_id = EXCLUDED.model_id, params = EXCLUDED.params,
		    url = EXCLUDED.url, created_at = EXCLUDED.created_at`,
		e.Key, e.Prompt, e.ModelID, string(e.Params), e.URL, e.CreatedAt)
	return err
}

func (p *PostgresBackend) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM image_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
