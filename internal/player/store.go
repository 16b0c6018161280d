package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chessarena/internal/obslog"

	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("player not found")
	ErrExists   = errors.New("player already exists")
)

// Store keeps player documents in Redis, one JSON value per player, with a
// rating ZSET kept in step for band queries and the leaderboard.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func playerKey(id string) string { return "player:" + strings.TrimSpace(id) }

const ratingIndexKey = "players:by_rating"

// Create stores a new player document. Rating defaults to DefaultRating.
func (s *Store) Create(ctx context.Context, p *Player) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("invalid player")
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.Rating == 0 {
		p.Rating = DefaultRating
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, playerKey(p.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	if err := s.rdb.ZAdd(ctx, ratingIndexKey, redis.Z{Score: float64(p.Rating), Member: p.ID}).Err(); err != nil {
		return err
	}
	obslog.L().Info("player_create", zap.String("player_id", p.ID), zap.Int("rating", p.Rating))
	return nil
}

// Get loads a player document. Returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, id string) (*Player, error) {
	raw, err := s.rdb.Get(ctx, playerKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p Player
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetSearching flips the searching flag; enabling it also records the search
// start time.
func (s *Store) SetSearching(ctx context.Context, id string, searching bool) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	p.IsSearching = searching
	if searching {
		now := time.Now()
		p.LastSearchAt = &now
	}
	return s.save(ctx, p)
}

// ApplyResult writes the post-game rating and bumps the matching counters in
// one document write. The rating index follows the new value.
func (s *Store) ApplyResult(ctx context.Context, id string, newRating int, outcome string) (*Player, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Rating = newRating
	p.TotalMatches++
	switch outcome {
	case OutcomeWin:
		p.Wins++
	case OutcomeLoss:
		p.Losses++
	case OutcomeDraw:
		p.Draws++
	default:
		return nil, fmt.Errorf("unknown outcome %q", outcome)
	}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	obslog.L().Info("player_result",
		zap.String("player_id", p.ID),
		zap.String("outcome", outcome),
		zap.Int("rating", p.Rating),
	)
	return p, nil
}

// OpponentsInBand returns players whose rating lies within window of rating,
// excluding excludeID.
func (s *Store) OpponentsInBand(ctx context.Context, rating, window int, excludeID string) ([]*Player, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, ratingIndexKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", rating-window),
		Max: fmt.Sprintf("%d", rating+window),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Player, 0, len(ids))
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		p, err := s.Get(ctx, id)
		if err != nil {
			// Index can outlive a deleted document; skip.
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Leaderboard returns up to limit players ordered by rating, best first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]*Player, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := s.rdb.ZRevRange(ctx, ratingIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Player, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) save(ctx context.Context, p *Player) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, playerKey(p.ID), raw, 0).Err(); err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, ratingIndexKey, redis.Z{Score: float64(p.Rating), Member: p.ID}).Err()
}
