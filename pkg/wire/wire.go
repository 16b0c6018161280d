// Package wire defines the JSON messages exchanged between a client and the
// arena server over the realtime channel. Every message is an Envelope whose
// Type selects one of the payload structs below.
package wire

import "encoding/json"

// Message types, client to server.
const (
	TypeFindMatch         = "findMatch"
	TypeCancelMatchmaking = "cancelMatchmaking"
	TypeJoinMatch         = "joinMatch"
	TypeRejoinMatch       = "rejoinMatch"
	TypePlayerReady       = "playerReady"
	TypeChessMove         = "chessMove"
	TypeResign            = "resign"
	TypeMatchResult       = "matchResult"
)

// Message types, server to client.
const (
	TypeMatchmaking      = "matchmaking"
	TypeMatchFound       = "matchFound"
	TypeBothPlayersReady = "bothPlayersReady"
	TypeOpponentMove     = "opponentMove"
	TypeMatchEnded       = "matchEnded"
	TypeMatchError       = "matchError"
)

// Envelope carries one typed message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. Marshal failures are
// programming errors (all payload types here are plain structs), so they
// surface as an error for the caller to log.
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: msgType, Payload: raw}, nil
}

// Square addresses one board cell. Row 0 is black's back rank, row 7 white's.
type Square struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type FindMatch struct {
	PlayerID    string `json:"playerId"`
	TimeControl int    `json:"timeControl"` // seconds per side
}

// Matchmaking acknowledges queue operations: "searching" or "cancelled".
type Matchmaking struct {
	Status string `json:"status"`
}

const (
	StatusSearching = "searching"
	StatusCancelled = "cancelled"
)

type OpponentSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type MatchFound struct {
	SessionID string          `json:"sessionId"`
	RoomID    string          `json:"roomId"`
	Color     string          `json:"color"`
	Opponent  OpponentSummary `json:"opponent"`
}

type JoinMatch struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
}

type PlayerReady struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
}

type BothPlayersReady struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
}

type ChessMove struct {
	RoomID string `json:"roomId"`
	From   Square `json:"from"`
	To     Square `json:"to"`
}

type OpponentMove struct {
	From Square `json:"from"`
	To   Square `json:"to"`
}

type Resign struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
}

// MatchResult is a client-reported termination (draw agreement, a timeout or
// resignation observed client-side). The server still owns the final verdict.
type MatchResult struct {
	SessionID     string `json:"sessionId"`
	RoomID        string `json:"roomId"`
	Winner        string `json:"winner,omitempty"`
	Loser         string `json:"loser,omitempty"`
	IsDraw        bool   `json:"isDraw"`
	ByTimeout     bool   `json:"byTimeout,omitempty"`
	ByResignation bool   `json:"byResignation,omitempty"`
}

type PlayerOutcome struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NewRating int    `json:"newRating"`
}

type MatchEnded struct {
	SessionID string        `json:"sessionId"`
	Result    string        `json:"result"` // win | draw | abandoned
	Winner    string        `json:"winner,omitempty"`
	Player1   PlayerOutcome `json:"player1"`
	Player2   PlayerOutcome `json:"player2"`
}

type MatchError struct {
	Message string `json:"message"`
}
