// Package session drives a paired match through its lifecycle: the ready
// handshake, move relay with rule validation, clocks, and termination with
// rating settlement. One Coordinator serves every live session; per-session
// state is serialized on the session's own lock, and persistence always
// happens after the state transition that triggered it.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chessarena/internal/archive"
	"chessarena/internal/arena"
	"chessarena/internal/msgcat"
	"chessarena/internal/obslog"
	"chessarena/internal/player"
	"chessarena/internal/rating"
	"chessarena/internal/rules"
	"chessarena/pkg/wire"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrNotParticipant = errors.New("player not in session")
	ErrOutOfTurn      = errors.New("move out of turn")
	ErrNotActive      = errors.New("session not active")
	ErrBadResult      = errors.New("invalid match result report")
)

// Result methods recorded on termination.
const (
	MethodKingCapture = "king-capture"
	MethodResignation = "resignation"
	MethodTimeout     = "timeout"
	MethodForfeit     = "forfeit"
	MethodDraw        = "draw"
	MethodReported    = "reported"
	MethodAbandoned   = "abandoned"
)

const settleTimeout = 5 * time.Second

type Coordinator struct {
	store   *arena.Store
	players *player.Store
	repo    *archive.Repository // optional
	cat     *msgcat.Catalog     // optional

	grace time.Duration
	tick  time.Duration

	timers timerSet
}

// NewCoordinator builds a coordinator. grace bounds how long a disconnected
// player may return; tick is the clock resolution (sub-second keeps timeouts
// honest without busy-waiting).
func NewCoordinator(store *arena.Store, players *player.Store, grace, tick time.Duration) *Coordinator {
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	return &Coordinator{
		store:   store,
		players: players,
		grace:   grace,
		tick:    tick,
		timers:  newTimerSet(),
	}
}

// AttachRepository wires the optional match archive.
func (c *Coordinator) AttachRepository(r *archive.Repository) {
	if c != nil {
		c.repo = r
	}
}

// AttachCatalog wires the optional message catalog for player notices.
func (c *Coordinator) AttachCatalog(cat *msgcat.Catalog) {
	if c != nil {
		c.cat = cat
	}
}

// Join attaches (or re-attaches, after a disconnect) a player's connection to
// the session room and returns the matchFound summary for the reply. A rejoin
// within the grace period cancels the pending forfeit.
func (c *Coordinator) Join(sessionID, playerID string, conn arena.Conn) (*wire.MatchFound, error) {
	s := c.store.SessionByID(sessionID)
	if s == nil {
		return nil, ErrNotFound
	}
	s.Lock()
	member := s.ByID(playerID)
	if member == nil {
		s.Unlock()
		return nil, ErrNotParticipant
	}
	member.Conn = conn
	opponent := s.OpponentOf(playerID)
	reply := &wire.MatchFound{
		SessionID: s.ID,
		RoomID:    s.RoomID,
		Color:     member.Color.String(),
		Opponent: wire.OpponentSummary{
			ID:     opponent.ID,
			Name:   opponent.Name,
			Rating: opponent.RatingBefore,
		},
	}
	opponentConn := opponent.Conn
	active := s.Status == arena.StatusActive
	s.Unlock()

	if c.timers.cancel(s.ID, playerID) {
		obslog.L().Info("session_rejoin", zap.String("session_id", s.ID), zap.String("player_id", playerID))
		if active {
			c.notify(opponentConn, "session.opponent_returned", nil, "Your opponent reconnected")
		}
	}
	return reply, nil
}

// Ready records a player's readiness. When both players have signalled, the
// session becomes active: clocks start from the time control and both sides
// are told to begin.
func (c *Coordinator) Ready(sessionID, playerID string) error {
	s := c.store.SessionByID(sessionID)
	if s == nil {
		return ErrNotFound
	}
	s.Lock()
	if s.ByID(playerID) == nil {
		s.Unlock()
		return ErrNotParticipant
	}
	if s.Status != arena.StatusPending {
		s.Unlock()
		return ErrNotActive
	}
	s.Unlock()

	if c.store.MarkReady(sessionID, playerID) < 2 {
		obslog.L().Info("session_ready_wait", zap.String("session_id", sessionID), zap.String("player_id", playerID))
		return nil
	}
	c.store.ClearReady(sessionID)

	s.Lock()
	if s.Status != arena.StatusPending {
		s.Unlock()
		return nil
	}
	s.Status = arena.StatusActive
	s.StartedAt = time.Now()
	s.WhiteMs = int64(s.TimeControl) * 1000
	s.BlackMs = int64(s.TimeControl) * 1000
	conns := []arena.Conn{s.Players[0].Conn, s.Players[1].Conn}
	s.Unlock()

	obslog.L().Info("session_start",
		zap.String("session_id", s.ID),
		zap.String("room_id", s.RoomID),
		zap.Int("time_control", s.TimeControl),
	)
	for _, conn := range conns {
		sendTo(conn, wire.TypeBothPlayersReady, wire.BothPlayersReady{SessionID: s.ID, RoomID: s.RoomID})
	}
	go c.runClock(s)
	return nil
}

// Move validates and applies one move for playerID in the room. Rejected
// moves (out of turn, illegal, self-check) never mutate the session and are
// reported only to the caller. A legal capture of the king ends the game for
// the capturing side.
func (c *Coordinator) Move(roomID, playerID string, from, to rules.Square) error {
	s := c.store.SessionByRoom(roomID)
	if s == nil {
		return ErrNotFound
	}
	s.Lock()
	member := s.ByID(playerID)
	if member == nil {
		s.Unlock()
		return ErrNotParticipant
	}
	if s.Status != arena.StatusActive {
		s.Unlock()
		return ErrNotActive
	}
	if member.Color != s.Turn {
		s.Unlock()
		return ErrOutOfTurn
	}
	mv, err := rules.Validate(s.Board, from, to, member.Color)
	if err != nil {
		s.Unlock()
		return err
	}

	s.Board = s.Board.Apply(from, to)
	s.Moves = append(s.Moves, mv)
	s.Turn = s.Turn.Opponent()

	kingDown := !mv.Captured.Empty() && mv.Captured.Kind() == rules.King
	if kingDown {
		c.finishLocked(s, member.ID, arena.ResultWin, MethodKingCapture)
	}
	ply := len(s.Moves)
	opponentConn := s.OpponentOf(playerID).Conn
	s.Unlock()

	obslog.L().Info("session_move",
		zap.String("session_id", s.ID),
		zap.String("player_id", playerID),
		zap.Int("ply", ply),
		zap.Bool("capture", !mv.Captured.Empty()),
	)
	sendTo(opponentConn, wire.TypeOpponentMove, wire.OpponentMove{From: squareWire(from), To: squareWire(to)})
	if kingDown {
		c.settle(s)
	}
	return nil
}

// Resign ends the game immediately; the resigning color loses. An empty
// sessionID falls back to the player's registered session.
func (c *Coordinator) Resign(sessionID, playerID string) error {
	s := c.store.SessionByID(sessionID)
	if s == nil {
		s = c.store.SessionByPlayer(playerID)
	}
	if s == nil {
		return ErrNotFound
	}
	s.Lock()
	member := s.ByID(playerID)
	if member == nil {
		s.Unlock()
		return ErrNotParticipant
	}
	if s.Terminal() {
		s.Unlock()
		return ErrNotActive
	}
	winner := s.OpponentOf(playerID)
	c.finishLocked(s, winner.ID, arena.ResultWin, MethodResignation)
	s.Unlock()

	obslog.L().Info("session_resign", zap.String("session_id", s.ID), zap.String("player_id", playerID))
	c.settle(s)
	return nil
}

// Report handles a client-side matchResult: a draw agreement or an outcome
// the client observed. The reporter must be a participant and named winners
// must be members of the session.
func (c *Coordinator) Report(reporterID string, res wire.MatchResult) error {
	s := c.store.SessionByID(res.SessionID)
	if s == nil {
		s = c.store.SessionByRoom(res.RoomID)
	}
	if s == nil {
		return ErrNotFound
	}
	s.Lock()
	if s.ByID(reporterID) == nil {
		s.Unlock()
		return ErrNotParticipant
	}
	// A result can only be reported for a game that actually started.
	if s.Status != arena.StatusActive {
		s.Unlock()
		return ErrNotActive
	}

	if res.IsDraw {
		c.finishLocked(s, "", arena.ResultDraw, MethodDraw)
	} else {
		if s.ByID(res.Winner) == nil {
			s.Unlock()
			return ErrBadResult
		}
		method := MethodReported
		if res.ByTimeout {
			method = MethodTimeout
		} else if res.ByResignation {
			method = MethodResignation
		}
		c.finishLocked(s, res.Winner, arena.ResultWin, method)
	}
	s.Unlock()

	obslog.L().Info("session_reported",
		zap.String("session_id", s.ID),
		zap.String("reporter_id", reporterID),
		zap.Bool("draw", res.IsDraw),
	)
	c.settle(s)
	return nil
}

// HandleDisconnect is called by the transport when a connection dies. The
// opponent is informed immediately; the vanished player has the grace period
// to rejoin. A session that never became active is abandoned unrated, an
// active one is forfeited to the remaining player.
func (c *Coordinator) HandleDisconnect(playerID string) {
	s := c.store.SessionByPlayer(playerID)
	if s == nil {
		return
	}
	s.Lock()
	if s.Terminal() {
		s.Unlock()
		return
	}
	member := s.ByID(playerID)
	if member != nil {
		member.Conn = nil
	}
	wasActive := s.Status == arena.StatusActive
	opponentConn := s.OpponentOf(playerID).Conn
	s.Unlock()

	obslog.L().Info("session_disconnect",
		zap.String("session_id", s.ID),
		zap.String("player_id", playerID),
		zap.Bool("active", wasActive),
		zap.Duration("grace", c.grace),
	)
	if wasActive {
		c.notify(opponentConn, "session.opponent_disconnected",
			map[string]any{"Grace": c.grace.String()},
			fmt.Sprintf("Your opponent disconnected. They have %s to return.", c.grace))
	}

	c.timers.start(s.ID, playerID, c.grace, func() {
		c.graceExpired(s, playerID)
	})
}

// graceExpired decides abandon vs forfeit from the session's state at expiry,
// not at disconnect time: the opponent's ready can still activate a pending
// session while the vanished player's grace is running.
func (c *Coordinator) graceExpired(s *arena.Session, playerID string) {
	s.Lock()
	if s.Terminal() {
		s.Unlock()
		return
	}
	if s.Status == arena.StatusActive {
		winner := s.OpponentOf(playerID)
		c.finishLocked(s, winner.ID, arena.ResultWin, MethodForfeit)
	} else {
		c.abandonLocked(s)
	}
	s.Unlock()
	c.settle(s)
}

// finishLocked marks the session completed. Callers hold the session lock;
// the clock loop observes the terminal state on its next tick and exits, so
// no stale timeout can fire after this point.
func (c *Coordinator) finishLocked(s *arena.Session, winnerID, result, method string) {
	s.Status = arena.StatusCompleted
	s.Result = result
	s.Winner = winnerID
	s.Method = method
	s.EndedAt = time.Now()
}

func (c *Coordinator) abandonLocked(s *arena.Session) {
	s.Status = arena.StatusAbandoned
	s.Result = arena.ResultAbandoned
	s.Method = MethodAbandoned
	s.EndedAt = time.Now()
}

// runClock drives the active color's countdown. Each tick re-checks the
// session state under its lock, so the loop can never decrement or expire a
// finished game.
func (c *Coordinator) runClock(s *arena.Session) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	last := time.Now()
	for range ticker.C {
		s.Lock()
		if s.Terminal() {
			s.Unlock()
			return
		}
		now := time.Now()
		elapsed := now.Sub(last).Milliseconds()
		last = now

		expiredColor := rules.Color(0)
		if s.Turn == rules.White {
			s.WhiteMs -= elapsed
			if s.WhiteMs <= 0 {
				s.WhiteMs = 0
				expiredColor = rules.White
			}
		} else {
			s.BlackMs -= elapsed
			if s.BlackMs <= 0 {
				s.BlackMs = 0
				expiredColor = rules.Black
			}
		}
		if expiredColor == 0 {
			s.Unlock()
			continue
		}

		winner := s.ByColor(expiredColor.Opponent())
		c.finishLocked(s, winner.ID, arena.ResultWin, MethodTimeout)
		s.Unlock()

		obslog.L().Info("session_flag_fall",
			zap.String("session_id", s.ID),
			zap.String("color", expiredColor.String()),
		)
		c.settle(s)
		return
	}
}

// settle runs exactly once per session, by the caller that performed the
// terminal transition: ratings, persistence, notifications, release.
func (c *Coordinator) settle(s *arena.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	s.Lock()
	p0, p1 := s.Players[0], s.Players[1]
	result, winner, method := s.Result, s.Winner, s.Method
	conns := []arena.Conn{p0.Conn, p1.Conn}
	s.Unlock()

	new0, new1 := p0.RatingBefore, p1.RatingBefore
	if result == arena.ResultWin || result == arena.ResultDraw {
		score0 := rating.ScoreDraw
		outcome0, outcome1 := player.OutcomeDraw, player.OutcomeDraw
		if result == arena.ResultWin {
			if winner == p0.ID {
				score0, outcome0, outcome1 = rating.ScoreWin, player.OutcomeWin, player.OutcomeLoss
			} else {
				score0, outcome0, outcome1 = rating.ScoreLoss, player.OutcomeLoss, player.OutcomeWin
			}
		}
		out := rating.Apply(p0.RatingBefore, p1.RatingBefore, score0)
		new0, new1 = out.A, out.B

		if _, err := c.players.ApplyResult(ctx, p0.ID, new0, outcome0); err != nil {
			obslog.L().Error("settle_player_update_error", zap.String("player_id", p0.ID), zap.Error(err))
		}
		if _, err := c.players.ApplyResult(ctx, p1.ID, new1, outcome1); err != nil {
			obslog.L().Error("settle_player_update_error", zap.String("player_id", p1.ID), zap.Error(err))
		}
	}

	if c.repo != nil {
		ratings := archive.Ratings{}
		if p0.Color == rules.White {
			ratings = archive.Ratings{WhiteBefore: p0.RatingBefore, WhiteAfter: new0, BlackBefore: p1.RatingBefore, BlackAfter: new1}
		} else {
			ratings = archive.Ratings{WhiteBefore: p1.RatingBefore, WhiteAfter: new1, BlackBefore: p0.RatingBefore, BlackAfter: new0}
		}
		if err := c.repo.SaveResult(ctx, s, ratings); err != nil {
			obslog.L().Error("settle_archive_error", zap.String("session_id", s.ID), zap.Error(err))
		}
	}

	ended := wire.MatchEnded{
		SessionID: s.ID,
		Result:    result,
		Winner:    winner,
		Player1:   wire.PlayerOutcome{ID: p0.ID, Name: p0.Name, NewRating: new0},
		Player2:   wire.PlayerOutcome{ID: p1.ID, Name: p1.Name, NewRating: new1},
	}
	for _, conn := range conns {
		sendTo(conn, wire.TypeMatchEnded, ended)
	}

	c.timers.cancelSession(s.ID)
	c.store.ReleaseSession(s.ID)
	obslog.L().Info("session_end",
		zap.String("session_id", s.ID),
		zap.String("result", result),
		zap.String("winner", winner),
		zap.String("method", method),
		zap.Int("moves", len(s.Moves)),
	)
}

// notify renders a catalog message for a single connection; the fallback
// covers a missing catalog or template.
func (c *Coordinator) notify(conn arena.Conn, key string, data map[string]any, fallback string) {
	text := fallback
	if c.cat != nil {
		if rendered, err := c.cat.Render(key, data); err == nil {
			text = rendered
		}
	}
	sendTo(conn, wire.TypeMatchError, wire.MatchError{Message: text})
}

func sendTo(conn arena.Conn, msgType string, payload any) {
	if conn == nil {
		return
	}
	if err := conn.Send(msgType, payload); err != nil {
		obslog.L().Debug("session_send_error", zap.String("type", msgType), zap.Error(err))
	}
}

func squareWire(sq rules.Square) wire.Square {
	return wire.Square{Row: sq.Row, Col: sq.Col}
}
