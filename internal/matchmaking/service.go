// Package matchmaking pairs searching players. Pairing is a single
// compare-and-remove transaction on the arena store, so the same player can
// never land in two sessions; persistence effects happen after the queue
// commit and are compensated by requeueing on failure.
package matchmaking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chessarena/internal/archive"
	"chessarena/internal/arena"
	"chessarena/internal/obslog"
	"chessarena/internal/player"
	"chessarena/internal/rules"
	"chessarena/pkg/wire"
)

// Errors surfaced to the transport layer.
var (
	ErrPlayerNotFound = player.ErrNotFound
	ErrAlreadyQueued  = arena.ErrAlreadyQueued
	ErrBusy           = arena.ErrBusy
)

// RetryNotice is sent to both sides when a pairing had to be rolled back.
// They stay queued, so from the player's view the search simply continues.
const RetryNotice = "Failed to create match, retrying..."

type Service struct {
	store   *arena.Store
	players *player.Store
	repo    *archive.Repository // optional

	window             int
	defaultTimeControl int
}

func NewService(store *arena.Store, players *player.Store, window, defaultTimeControl int) *Service {
	return &Service{
		store:              store,
		players:            players,
		window:             window,
		defaultTimeControl: defaultTimeControl,
	}
}

// AttachRepository wires the optional match archive.
func (s *Service) AttachRepository(r *archive.Repository) {
	if s != nil {
		s.repo = r
	}
}

// Enqueue registers a search request and immediately attempts a pairing.
// The caller receives ErrPlayerNotFound, ErrAlreadyQueued or ErrBusy for
// rejected requests; on success the connection has been told "searching" and,
// when an opponent was available, both sides got their matchFound.
func (s *Service) Enqueue(ctx context.Context, playerID string, timeControl int, conn arena.Conn) error {
	p, err := s.players.Get(ctx, playerID)
	if err != nil {
		return err
	}
	if timeControl <= 0 {
		timeControl = s.defaultTimeControl
	}

	entry := &arena.QueueEntry{
		PlayerID:    p.ID,
		Conn:        conn,
		Rating:      p.Rating,
		Name:        p.Name,
		JoinedAt:    time.Now(),
		TimeControl: timeControl,
	}
	if err := s.store.InsertEntry(entry); err != nil {
		return err
	}
	if err := s.players.SetSearching(ctx, p.ID, true); err != nil {
		s.store.RemoveEntry(p.ID)
		return err
	}

	obslog.L().Info("queue_enter",
		zap.String("player_id", p.ID),
		zap.Int("rating", p.Rating),
		zap.Int("time_control", timeControl),
		zap.Int("queue_len", s.store.QueueLen()),
	)
	_ = send(conn, wire.TypeMatchmaking, wire.Matchmaking{Status: wire.StatusSearching})

	s.attemptPairing(ctx, p.ID)
	return nil
}

// Cancel removes the player from the queue and acknowledges the cancellation
// on their connection. A player who was not queued is not an error.
func (s *Service) Cancel(ctx context.Context, playerID string) error {
	if e, ok := s.store.RemoveEntry(playerID); ok {
		obslog.L().Info("queue_cancel", zap.String("player_id", playerID))
		_ = send(e.Conn, wire.TypeMatchmaking, wire.Matchmaking{Status: wire.StatusCancelled})
	}
	if err := s.players.SetSearching(ctx, playerID, false); err != nil && !errors.Is(err, player.ErrNotFound) {
		return err
	}
	return nil
}

// Disconnect clears a vanished player's queue entry and searching flag.
func (s *Service) Disconnect(ctx context.Context, playerID string) {
	if _, ok := s.store.RemoveEntry(playerID); ok {
		obslog.L().Info("queue_drop_disconnect", zap.String("player_id", playerID))
	}
	if err := s.players.SetSearching(ctx, playerID, false); err != nil && !errors.Is(err, player.ErrNotFound) {
		obslog.L().Warn("queue_flag_clear_error", zap.String("player_id", playerID), zap.Error(err))
	}
}

// attemptPairing runs the compare-and-remove transaction and, when it
// produced a pair, builds the session and notifies both sides. All I/O
// happens after both entries left the queue; any failure restores them with
// their original joinedAt and tells both connections to keep waiting.
func (s *Service) attemptPairing(ctx context.Context, playerID string) {
	req, opp, ok := s.store.TakePair(playerID, s.window)
	if !ok {
		return
	}

	sess, err := s.createSession(ctx, req, opp)
	if err != nil {
		obslog.L().Warn("pairing_rollback",
			zap.String("player_id", req.PlayerID),
			zap.String("opponent_id", opp.PlayerID),
			zap.Error(err),
		)
		s.store.Restore(req, opp)
		for _, e := range []*arena.QueueEntry{req, opp} {
			_ = send(e.Conn, wire.TypeMatchError, wire.MatchError{Message: RetryNotice})
			_ = send(e.Conn, wire.TypeMatchmaking, wire.Matchmaking{Status: wire.StatusSearching})
		}
		return
	}

	obslog.L().Info("match_found",
		zap.String("session_id", sess.ID),
		zap.String("room_id", sess.RoomID),
		zap.String("white_id", sess.ByColor(rules.White).ID),
		zap.String("black_id", sess.ByColor(rules.Black).ID),
		zap.Int("time_control", sess.TimeControl),
	)

	for _, member := range sess.Players {
		other := sess.OpponentOf(member.ID)
		_ = send(member.Conn, wire.TypeMatchFound, wire.MatchFound{
			SessionID: sess.ID,
			RoomID:    sess.RoomID,
			Color:     member.Color.String(),
			Opponent: wire.OpponentSummary{
				ID:     other.ID,
				Name:   other.Name,
				Rating: other.RatingBefore,
			},
		})
	}
}

func (s *Service) createSession(ctx context.Context, req, opp *arena.QueueEntry) (*arena.Session, error) {
	id := uuid.NewString()
	reqColor := rules.White
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 0 {
		reqColor = rules.Black
	}

	timeControl := req.TimeControl
	sess := &arena.Session{
		ID:     id,
		RoomID: "match_" + id,
		Players: [2]*arena.Participant{
			{ID: req.PlayerID, Name: req.Name, Color: reqColor, RatingBefore: req.Rating, Conn: req.Conn},
			{ID: opp.PlayerID, Name: opp.Name, Color: reqColor.Opponent(), RatingBefore: opp.Rating, Conn: opp.Conn},
		},
		Status:      arena.StatusPending,
		Result:      arena.ResultOngoing,
		Board:       rules.StartingBoard(),
		Turn:        rules.White,
		TimeControl: timeControl,
		WhiteMs:     int64(timeControl) * 1000,
		BlackMs:     int64(timeControl) * 1000,
		CreatedAt:   time.Now(),
	}

	if err := s.store.PutSession(sess); err != nil {
		return nil, err
	}

	// Persistence effects follow the queue commit; compensate on failure.
	if err := s.clearSearching(ctx, req.PlayerID, opp.PlayerID); err != nil {
		s.store.ReleaseSession(sess.ID)
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.InsertOngoing(ctx, sess); err != nil {
			s.store.ReleaseSession(sess.ID)
			return nil, fmt.Errorf("archive match: %w", err)
		}
	}
	return sess, nil
}

func (s *Service) clearSearching(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if err := s.players.SetSearching(ctx, id, false); err != nil {
			return fmt.Errorf("clear searching %s: %w", id, err)
		}
	}
	return nil
}

func send(conn arena.Conn, msgType string, payload any) error {
	if conn == nil {
		return nil
	}
	return conn.Send(msgType, payload)
}
