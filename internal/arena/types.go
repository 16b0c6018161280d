// Package arena owns the shared matchmaking and session state: the queue of
// searching players, per-session ready sets, and the registry of live
// sessions. Every compound operation is a single critical section so two
// connection handlers can never pair the same player twice.
package arena

import (
	"sync"
	"time"

	"chessarena/internal/rules"
)

// Conn is the per-player send channel the transport layer hands to the
// services. Implementations must be safe for concurrent use.
type Conn interface {
	Send(msgType string, payload any) error
}

// QueueEntry is one player's outstanding matchmaking request.
type QueueEntry struct {
	PlayerID    string
	Conn        Conn
	Rating      int // snapshot at enqueue time
	Name        string
	JoinedAt    time.Time
	TimeControl int // seconds per side
}

// SessionStatus is the lifecycle state of a session. The ready handshake
// happens while the session is still pending.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// Results.
const (
	ResultOngoing   = "ongoing"
	ResultWin       = "win"
	ResultDraw      = "draw"
	ResultAbandoned = "abandoned"
)

// Participant is one side of a session.
type Participant struct {
	ID           string
	Name         string
	Color        rules.Color
	RatingBefore int
	Conn         Conn
}

// Session is one paired, time-controlled game. The embedded mutex serializes
// all mutation; the coordinator locks it for every state transition, and the
// clock loop for every tick. Store-level bookkeeping uses the Store mutex
// instead, so the two never nest the other way around.
type Session struct {
	sync.Mutex

	ID     string
	RoomID string
	// Players[0] is the enqueueing requester, Players[1] the matched
	// opponent. Colors are assigned randomly at creation.
	Players [2]*Participant

	Status SessionStatus
	Result string
	Winner string // player id, empty for draws
	Method string // king-capture | resignation | timeout | forfeit | draw | abandoned

	Board rules.Board
	Turn  rules.Color
	Moves []rules.Move

	TimeControl int // seconds per side
	WhiteMs     int64
	BlackMs     int64

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// ByColor returns the participant playing c.
func (s *Session) ByColor(c rules.Color) *Participant {
	for _, p := range s.Players {
		if p != nil && p.Color == c {
			return p
		}
	}
	return nil
}

// ByID returns the participant with the given player id, or nil.
func (s *Session) ByID(playerID string) *Participant {
	for _, p := range s.Players {
		if p != nil && p.ID == playerID {
			return p
		}
	}
	return nil
}

// OpponentOf returns the other participant, or nil when playerID is not a
// member.
func (s *Session) OpponentOf(playerID string) *Participant {
	if s.Players[0] != nil && s.Players[0].ID == playerID {
		return s.Players[1]
	}
	if s.Players[1] != nil && s.Players[1].ID == playerID {
		return s.Players[0]
	}
	return nil
}

// RemainingMs returns c's clock.
func (s *Session) RemainingMs(c rules.Color) int64 {
	if c == rules.White {
		return s.WhiteMs
	}
	return s.BlackMs
}

// Terminal reports whether the session reached a final state.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusAbandoned
}
