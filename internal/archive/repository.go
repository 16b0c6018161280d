// Package archive persists match records to Postgres. It is optional: the
// server runs without a database, and every write path is nil-safe.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"chessarena/internal/arena"
	"chessarena/internal/rules"
)

var ErrNotFound = errors.New("match not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ratings carries both sides' pre- and post-game ratings for SaveResult.
type Ratings struct {
	WhiteBefore int
	WhiteAfter  int
	BlackBefore int
	BlackAfter  int
}

// InsertOngoing creates the row when a pairing is made, before any move.
func (r *Repository) InsertOngoing(ctx context.Context, s *arena.Session) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}
	white, black := s.ByColor(rules.White), s.ByColor(rules.Black)
	const q = `INSERT INTO arena_matches (
		match_id, room_id, white_id, white_name, black_id, black_name,
		time_control, result, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (match_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.RoomID,
		white.ID, white.Name, black.ID, black.Name,
		s.TimeControl, arena.ResultOngoing, s.CreatedAt,
	)
	return err
}

// SaveResult upserts the final state of a session.
func (r *Repository) SaveResult(ctx context.Context, s *arena.Session, ratings Ratings) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}
	movesRaw, err := json.Marshal(s.Moves)
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}
	white, black := s.ByColor(rules.White), s.ByColor(rules.Black)
	duration := s.EndedAt.Sub(s.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	const q = `INSERT INTO arena_matches (
		match_id, room_id, white_id, white_name, black_id, black_name,
		time_control, result, winner_id, result_method, moves,
		white_rating_before, white_rating_after,
		black_rating_before, black_rating_after,
		created_at, started_at, ended_at, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
	) ON CONFLICT (match_id) DO UPDATE SET
		result=EXCLUDED.result,
		winner_id=EXCLUDED.winner_id,
		result_method=EXCLUDED.result_method,
		moves=EXCLUDED.moves,
		white_rating_before=EXCLUDED.white_rating_before,
		white_rating_after=EXCLUDED.white_rating_after,
		black_rating_before=EXCLUDED.black_rating_before,
		black_rating_after=EXCLUDED.black_rating_after,
		started_at=EXCLUDED.started_at,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.RoomID,
		white.ID, white.Name, black.ID, black.Name,
		s.TimeControl, s.Result, nullString(s.Winner), s.Method, string(movesRaw),
		ratings.WhiteBefore, ratings.WhiteAfter,
		ratings.BlackBefore, ratings.BlackAfter,
		s.CreatedAt, nullTime(s.StartedAt), nullTime(s.EndedAt), duration,
	)
	return err
}

// Match is the stored record, for REST reads.
type Match struct {
	MatchID      string       `json:"matchId"`
	RoomID       string       `json:"roomId"`
	WhiteID      string       `json:"whiteId"`
	WhiteName    string       `json:"whiteName"`
	BlackID      string       `json:"blackId"`
	BlackName    string       `json:"blackName"`
	TimeControl  int          `json:"timeControl"`
	Result       string       `json:"result"`
	WinnerID     string       `json:"winnerId,omitempty"`
	ResultMethod string       `json:"resultMethod,omitempty"`
	Moves        []rules.Move `json:"moves,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// GetMatch loads one match row by id.
func (r *Repository) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	if r == nil || r.db == nil {
		return nil, ErrNotFound
	}
	const q = `SELECT match_id, room_id, white_id, white_name, black_id, black_name,
		time_control, result, COALESCE(winner_id, ''), COALESCE(result_method, ''),
		COALESCE(moves, '[]'), created_at
	FROM arena_matches WHERE match_id = $1`
	var m Match
	var movesRaw string
	err := r.db.QueryRowContext(ctx, q, matchID).Scan(
		&m.MatchID, &m.RoomID, &m.WhiteID, &m.WhiteName, &m.BlackID, &m.BlackName,
		&m.TimeControl, &m.Result, &m.WinnerID, &m.ResultMethod, &movesRaw, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(movesRaw), &m.Moves); err != nil {
		return nil, fmt.Errorf("decode moves: %w", err)
	}
	return &m, nil
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
