package db

import (
	"context"
	"fmt"
	"time"
)

// MatchRecord is one finished match as stored in the history table.
type MatchRecord struct {
	ID        int64
	PlayerA   string
	PlayerB   string
	Winner    string // empty if the match produced no winner
	Reason    string // "all_ships_sunk", "forfeit_timeouts", "forfeit_reconnect", "quit", "server_error", "shutdown"
	Moves     int
	StartedAt time.Time
	EndedAt   time.Time
}

// MatchRepository persists finished matches.
type MatchRepository interface {
	RecordMatch(ctx context.Context, rec MatchRecord) error
	RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error)
}

// PostgresMatchRepository stores match history in PostgreSQL.
type PostgresMatchRepository struct {
	db *DB
}

// NewPostgresMatchRepository creates a repository over the given DB.
func NewPostgresMatchRepository(db *DB) *PostgresMatchRepository {
	return &PostgresMatchRepository{db: db}
}

// RecordMatch inserts one finished match.
func (r *PostgresMatchRepository) RecordMatch(ctx context.Context, rec MatchRecord) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO matches (player_a, player_b, winner, reason, moves, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.PlayerA, rec.PlayerB, rec.Winner, rec.Reason, rec.Moves, rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("recording match %s vs %s: %w", rec.PlayerA, rec.PlayerB, err)
	}
	return nil
}

// RecentMatches returns the most recently finished matches, newest first.
func (r *PostgresMatchRepository) RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT id, player_a, player_b, winner, reason, moves, started_at, ended_at
		 FROM matches ORDER BY ended_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var rec MatchRecord
		if err := rows.Scan(&rec.ID, &rec.PlayerA, &rec.PlayerB, &rec.Winner,
			&rec.Reason, &rec.Moves, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning match row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating match rows: %w", err)
	}
	return out, nil
}
