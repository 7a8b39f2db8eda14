package storage

import (
	"context"
	"database/sql"
	"fmt"

	// register the pure-Go "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

type Storage struct {
	Connection *sql.DB
}

func NewSQLiteStorage(path string) (*Storage, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("can't open database: %w", err)
	}

	// sqlite allows one writer at a time
	conn.SetMaxOpenConns(1)

	if err = conn.Ping(); err != nil {
		return nil, fmt.Errorf("can't connect to database: %w", err)
	}

	return &Storage{Connection: conn}, nil
}

func (that *Storage) Init(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS rounds (
		match_id    TEXT    NOT NULL,
		round       INTEGER NOT NULL,
		outcome     TEXT    NOT NULL,
		winner      TEXT    NOT NULL DEFAULT '',
		payouts     TEXT    NOT NULL,
		board       TEXT    NOT NULL,
		finished_at TEXT    NOT NULL,
		PRIMARY KEY (match_id, round)
	)`

	_, err := that.Connection.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("can't create table: %w", err)
	}

	return nil
}

func (that *Storage) Close() error {
	return that.Connection.Close()
}
