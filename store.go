package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	id SERIAL PRIMARY KEY,
	word TEXT NOT NULL,
	taboo TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS games (
	id UUID PRIMARY KEY,
	code TEXT NOT NULL,
	results JSONB NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS players (
	id UUID PRIMARY KEY,
	game_id UUID NOT NULL REFERENCES games (id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	team TEXT NOT NULL
);
`

// store wraps the PostgreSQL connection pool. It serves two optional
// concerns: an alternate card catalog and a history of finished games.
type store struct {
	pool *pgxpool.Pool
}

func openStore(ctx context.Context, url string) (*store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &store{pool: pool}, nil
}

func (s *store) close() {
	s.pool.Close()
}

// splitTaboo decodes the comma-separated forbidden word column.
func splitTaboo(raw string) []string {
	fields := strings.Split(raw, ",")
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			words = append(words, trimmed)
		}
	}
	return words
}

// loadCards reads the card catalog from the database. An empty table is not
// an error; the caller falls back to the embedded deck.
func (s *store) loadCards(ctx context.Context) ([]Card, error) {
	rows, err := s.pool.Query(ctx, `SELECT word, taboo FROM cards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var cards []Card

	for rows.Next() {
		var word, taboo string
		if err := rows.Scan(&word, &taboo); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}

		forbidden := splitTaboo(taboo)
		if word == "" || len(forbidden) == 0 {
			return nil, fmt.Errorf("card %d: a word and at least one forbidden word are required", len(cards)+1)
		}

		cards = append(cards, Card{
			Index:     len(cards),
			Word:      word,
			Forbidden: forbidden,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read cards: %w", err)
	}

	return cards, nil
}

// gameRecord is one finished game as stored and as served by /history.
type gameRecord struct {
	ID         uuid.UUID    `json:"id"`
	Code       string       `json:"code"`
	Results    []TeamResult `json:"results"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// recordGame persists a finished game and its roster in one transaction.
func (s *store) recordGame(ctx context.Context, code string, results []TeamResult) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	gameID := uuid.New()

	_, err = tx.Exec(ctx,
		`INSERT INTO games (id, code, results, finished_at) VALUES ($1, $2, $3, now())`,
		gameID, code, results)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	for _, team := range results {
		for _, player := range team.Players {
			_, err = tx.Exec(ctx,
				`INSERT INTO players (id, game_id, name, team) VALUES ($1, $2, $3, $4)`,
				uuid.New(), gameID, player, team.Name)
			if err != nil {
				return fmt.Errorf("insert player: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// listGames returns the most recently finished games, newest first.
func (s *store) listGames(ctx context.Context, limit int) ([]gameRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, results, finished_at FROM games ORDER BY finished_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	games := make([]gameRecord, 0, limit)

	for rows.Next() {
		var g gameRecord
		if err := rows.Scan(&g.ID, &g.Code, &g.Results, &g.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read games: %w", err)
	}

	return games, nil
}
