// Package rules validates chess moves against the arena's simplified rule
// set: per-piece movement with path obstruction and self-check rejection.
// Games here end only by king capture, resignation or clock — there is no
// castling, en passant, promotion, or checkmate/stalemate detection.
package rules

// Color of a side.
type Color byte

const (
	White Color = 'w'
	Black Color = 'b'
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// ColorFromString parses "white"/"black" (or "w"/"b"). Anything else maps to
// White; callers validate upstream.
func ColorFromString(s string) Color {
	if len(s) > 0 && (s[0] == 'b' || s[0] == 'B') {
		return Black
	}
	return White
}

// Piece kinds.
const (
	Pawn   byte = 'p'
	Rook   byte = 'r'
	Knight byte = 'n'
	Bishop byte = 'b'
	Queen  byte = 'q'
	King   byte = 'k'
)

// Piece is a two-character color+kind code ("wp", "bk") or empty.
type Piece string

// Empty reports whether the cell holds no piece.
func (p Piece) Empty() bool { return p == "" }

// Color of the piece; undefined for empty cells.
func (p Piece) Color() Color { return Color(p[0]) }

// Kind of the piece; undefined for empty cells.
func (p Piece) Kind() byte { return p[1] }

// Square addresses a board cell. Row 0 is black's back rank.
type Square struct {
	Row int
	Col int
}

// OnBoard reports whether the square is inside the 8x8 grid.
func (s Square) OnBoard() bool {
	return s.Row >= 0 && s.Row < 8 && s.Col >= 0 && s.Col < 8
}

// Board is a value type: assigning or passing it copies the grid, so callers
// can apply tentative moves without mutating the authoritative state.
type Board [8][8]Piece

// At returns the piece on sq.
func (b Board) At(sq Square) Piece { return b[sq.Row][sq.Col] }

// Apply returns a copy of the board with the move from->to applied.
func (b Board) Apply(from, to Square) Board {
	b[to.Row][to.Col] = b[from.Row][from.Col]
	b[from.Row][from.Col] = ""
	return b
}

// StartingBoard returns the standard initial position.
func StartingBoard() Board {
	return Board{
		{"br", "bn", "bb", "bq", "bk", "bb", "bn", "br"},
		{"bp", "bp", "bp", "bp", "bp", "bp", "bp", "bp"},
		{"", "", "", "", "", "", "", ""},
		{"", "", "", "", "", "", "", ""},
		{"", "", "", "", "", "", "", ""},
		{"", "", "", "", "", "", "", ""},
		{"wp", "wp", "wp", "wp", "wp", "wp", "wp", "wp"},
		{"wr", "wn", "wb", "wq", "wk", "wb", "wn", "wr"},
	}
}
