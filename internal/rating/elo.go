// Package rating computes Elo skill updates for completed matches.
package rating

import "math"

// Score values for Update.
const (
	ScoreWin  = 1.0
	ScoreLoss = 0.0
	ScoreDraw = 0.5
)

// DefaultK is the K-factor used for ranked arena games.
const DefaultK = 32

// Update returns the new rating for a player who scored `score` against an
// opponent, using the logistic expected-score formula.
func Update(playerRating, opponentRating int, score float64, kFactor int) int {
	expected := 1 / (1 + math.Pow(10, float64(opponentRating-playerRating)/400))
	return int(math.Round(float64(playerRating) + float64(kFactor)*(score-expected)))
}

// Outcome holds both sides' post-game ratings.
type Outcome struct {
	A int
	B int
}

// Apply computes both new ratings from the pre-update ratings of both sides.
// scoreA is A's score; B's is its complement. Computing both from the same
// inputs keeps the result independent of update order.
func Apply(ratingA, ratingB int, scoreA float64) Outcome {
	return Outcome{
		A: Update(ratingA, ratingB, scoreA, DefaultK),
		B: Update(ratingB, ratingA, 1-scoreA, DefaultK),
	}
}
