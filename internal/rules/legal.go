package rules

// IsLegal reports whether moving the piece on from to to is legal for
// movingColor, ignoring check. Captures of the mover's own pieces are
// rejected here; self-check is Validate's concern.
func IsLegal(b Board, from, to Square, movingColor Color) bool {
	if !from.OnBoard() || !to.OnBoard() || from == to {
		return false
	}
	piece := b.At(from)
	if piece.Empty() || piece.Color() != movingColor {
		return false
	}
	if target := b.At(to); !target.Empty() && target.Color() == piece.Color() {
		return false
	}

	switch piece.Kind() {
	case Pawn:
		return legalPawn(b, from, to, piece.Color())
	case Rook:
		return legalRook(b, from, to)
	case Knight:
		return legalKnight(from, to)
	case Bishop:
		return legalBishop(b, from, to)
	case Queen:
		return legalRook(b, from, to) || legalBishop(b, from, to)
	case King:
		return legalKing(from, to)
	}
	return false
}

func legalPawn(b Board, from, to Square, c Color) bool {
	direction := 1
	startRow := 1
	if c == White {
		direction = -1
		startRow = 6
	}

	// Forward movement needs an empty destination.
	if from.Col == to.Col && b.At(to).Empty() {
		if to.Row == from.Row+direction {
			return true
		}
		// Double step from the start row, intervening square empty too.
		if from.Row == startRow && to.Row == from.Row+2*direction &&
			b[from.Row+direction][from.Col].Empty() {
			return true
		}
	}

	// Diagonal moves capture only.
	if abs(to.Col-from.Col) == 1 && to.Row == from.Row+direction {
		target := b.At(to)
		return !target.Empty() && target.Color() != c
	}

	return false
}

func legalRook(b Board, from, to Square) bool {
	if from.Row != to.Row && from.Col != to.Col {
		return false
	}
	return pathClear(b, from, to)
}

func legalKnight(from, to Square) bool {
	rowDiff := abs(to.Row - from.Row)
	colDiff := abs(to.Col - from.Col)
	return (rowDiff == 2 && colDiff == 1) || (rowDiff == 1 && colDiff == 2)
}

func legalBishop(b Board, from, to Square) bool {
	if abs(to.Row-from.Row) != abs(to.Col-from.Col) {
		return false
	}
	return pathClear(b, from, to)
}

func legalKing(from, to Square) bool {
	return abs(to.Row-from.Row) <= 1 && abs(to.Col-from.Col) <= 1
}

// pathClear checks every square strictly between from and to along a rank,
// file or diagonal.
func pathClear(b Board, from, to Square) bool {
	rowDir := sign(to.Row - from.Row)
	colDir := sign(to.Col - from.Col)
	row, col := from.Row+rowDir, from.Col+colDir
	for row != to.Row || col != to.Col {
		if !b[row][col].Empty() {
			return false
		}
		row += rowDir
		col += colDir
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
