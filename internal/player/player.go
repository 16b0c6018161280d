// Package player is the persistence collaborator for player documents:
// identity, rating and match counters, plus the searching flag the
// matchmaking service flips while a player sits in the queue.
package player

import "time"

// DefaultRating is assigned to newly created players.
const DefaultRating = 1200

// Outcome tokens for ApplyResult.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeDraw = "draw"
)

// Player is the stored document, one JSON value per player.
type Player struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Rating       int        `json:"rating"`
	Wins         int        `json:"wins"`
	Losses       int        `json:"losses"`
	Draws        int        `json:"draws"`
	TotalMatches int        `json:"total_matches"`
	IsSearching  bool       `json:"is_searching"`
	LastSearchAt *time.Time `json:"last_search_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
