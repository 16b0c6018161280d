package rules

import (
	"errors"
	"time"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrSelfCheck   = errors.New("move leaves own king in check")
)

// Move is the committed record of one accepted move.
type Move struct {
	From      Square    `json:"from"`
	To        Square    `json:"to"`
	Piece     Piece     `json:"piece"`
	Captured  Piece     `json:"captured,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsInCheck reports whether color's king is attacked by any opposing piece.
func IsInCheck(b Board, color Color) bool {
	king, ok := findKing(b, color)
	if !ok {
		// King already captured; no square to defend.
		return false
	}
	opponent := color.Opponent()
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			from := Square{Row: row, Col: col}
			piece := b.At(from)
			if piece.Empty() || piece.Color() != opponent {
				continue
			}
			if IsLegal(b, from, king, opponent) {
				return true
			}
		}
	}
	return false
}

// Validate is the full gate for a proposed move: piece movement legality and
// the self-check rule. On success it returns the Move record; the input board
// is never mutated, callers commit with b.Apply.
func Validate(b Board, from, to Square, movingColor Color) (Move, error) {
	if !IsLegal(b, from, to, movingColor) {
		return Move{}, ErrIllegalMove
	}
	if IsInCheck(b.Apply(from, to), movingColor) {
		return Move{}, ErrSelfCheck
	}
	return Move{
		From:      from,
		To:        to,
		Piece:     b.At(from),
		Captured:  b.At(to),
		Timestamp: time.Now(),
	}, nil
}

func findKing(b Board, color Color) (Square, bool) {
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			p := b[row][col]
			if !p.Empty() && p.Color() == color && p.Kind() == King {
				return Square{Row: row, Col: col}, true
			}
		}
	}
	return Square{}, false
}
