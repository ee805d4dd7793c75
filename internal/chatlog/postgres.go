package chatlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	id         BIGSERIAL PRIMARY KEY,
	room_id    TEXT        NOT NULL,
	sender     TEXT        NOT NULL,
	content    TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at);
`

const insertSQL = `INSERT INTO messages (room_id, sender, content, created_at) VALUES ($1, $2, $3, $4)`

const historySQL = `
SELECT room_id, sender, content, created_at FROM (
	SELECT id, room_id, sender, content, created_at
	FROM messages
	WHERE room_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT $2
) recent
ORDER BY created_at ASC, id ASC`

// PostgresStore appends chat messages to the messages table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse chat database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open chat database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping chat database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, insertSQL, msg.Room, msg.Sender, msg.Content, msg.CreatedAt.UTC())
	return err
}

func (s *PostgresStore) History(ctx context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx, historySQL, room, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.Room, &m.Sender, &m.Content, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan chat history: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
