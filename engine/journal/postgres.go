package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createJournalTable = `
CREATE TABLE IF NOT EXISTS engine_journal (
	id         BIGSERIAL PRIMARY KEY,
	topic      TEXT NOT NULL,
	task       TEXT,
	instance   INT,
	detail     TEXT,
	source     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// PostgresPublisher appends journal events to an append-only table.
type PostgresPublisher struct {
	pool *pgxpool.Pool
}

// NewPostgresPublisher opens a small pool and bootstraps the journal table.
func NewPostgresPublisher(ctx context.Context, connString string) (*PostgresPublisher, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// The journal is a low-rate append stream; a handful of connections
	// is plenty.
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createJournalTable); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresPublisher{pool: pool}, nil
}

func (p *PostgresPublisher) Publish(ctx context.Context, ev Event) error {
	query := `
		INSERT INTO engine_journal (topic, task, instance, detail, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.pool.Exec(ctx, query,
		ev.Topic, ev.Task, ev.ID, ev.Detail, ev.Source, ev.Timestamp,
	)
	return err
}

func (p *PostgresPublisher) Close() error {
	p.pool.Close()
	return nil
}
