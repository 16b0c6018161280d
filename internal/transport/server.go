// Package transport is the realtime edge of the arena: one websocket per
// player, JSON envelopes in both directions, and a heartbeat ping so dead
// peers are noticed between messages. The handlers translate envelopes into
// matchmaking and session calls and map their errors onto matchError replies.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chessarena/internal/arena"
	"chessarena/internal/matchmaking"
	"chessarena/internal/msgcat"
	"chessarena/internal/obslog"
	"chessarena/internal/rules"
	"chessarena/internal/session"
	"chessarena/pkg/wire"
)

const (
	writeTimeout = 5 * time.Second
	pingTimeout  = 3 * time.Second
)

// Server accepts websocket clients and dispatches their envelopes.
type Server struct {
	matchmaker *matchmaking.Service
	coord      *session.Coordinator
	cat        *msgcat.Catalog
	heartbeat  time.Duration
}

func NewServer(matchmaker *matchmaking.Service, coord *session.Coordinator, cat *msgcat.Catalog, heartbeat time.Duration) *Server {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &Server{
		matchmaker: matchmaker,
		coord:      coord,
		cat:        cat,
		heartbeat:  heartbeat,
	}
}

// Handler returns the websocket upgrade endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cl := &client{
		conn: &wsConn{ws: ws, ctx: ctx},
		srv:  s,
	}
	defer cl.teardown()

	obslog.L().Info("ws_connected", zap.String("remote", r.RemoteAddr))
	go s.pingLoop(ctx, cancel, cl.conn)

	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			obslog.L().Info("ws_closed",
				zap.String("remote", r.RemoteAddr),
				zap.String("player_id", cl.playerID()),
				zap.Error(err),
			)
			return
		}
		s.dispatch(ctx, cl, &env)
	}
}

// pingLoop keeps the connection's liveness honest; a failed ping tears the
// handler down by cancelling its context.
func (s *Server) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *wsConn) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				obslog.L().Debug("ws_ping_error", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cl *client, env *wire.Envelope) {
	switch env.Type {
	case wire.TypeFindMatch:
		var p wire.FindMatch
		if !decode(cl, env.Payload, &p) {
			return
		}
		cl.setPlayerID(p.PlayerID)
		if err := s.matchmaker.Enqueue(ctx, p.PlayerID, p.TimeControl, cl.conn); err != nil {
			s.replyError(cl, err)
		}

	case wire.TypeCancelMatchmaking:
		if err := s.matchmaker.Cancel(ctx, cl.playerID()); err != nil {
			s.replyError(cl, err)
		}

	case wire.TypeJoinMatch, wire.TypeRejoinMatch:
		var p wire.JoinMatch
		if !decode(cl, env.Payload, &p) {
			return
		}
		cl.setPlayerID(p.PlayerID)
		found, err := s.coord.Join(p.SessionID, p.PlayerID, cl.conn)
		if err != nil {
			s.replyError(cl, err)
			return
		}
		_ = cl.conn.Send(wire.TypeMatchFound, found)

	case wire.TypePlayerReady:
		var p wire.PlayerReady
		if !decode(cl, env.Payload, &p) {
			return
		}
		cl.setPlayerID(p.PlayerID)
		if err := s.coord.Ready(p.SessionID, p.PlayerID); err != nil {
			s.replyError(cl, err)
		}

	case wire.TypeChessMove:
		var p wire.ChessMove
		if !decode(cl, env.Payload, &p) {
			return
		}
		from := rules.Square{Row: p.From.Row, Col: p.From.Col}
		to := rules.Square{Row: p.To.Row, Col: p.To.Col}
		if err := s.coord.Move(p.RoomID, cl.playerID(), from, to); err != nil {
			s.replyError(cl, err)
		}

	case wire.TypeResign:
		var p wire.Resign
		if !decode(cl, env.Payload, &p) {
			return
		}
		if p.PlayerID != "" {
			cl.setPlayerID(p.PlayerID)
		}
		if err := s.coord.Resign(p.SessionID, cl.playerID()); err != nil {
			s.replyError(cl, err)
		}

	case wire.TypeMatchResult:
		var p wire.MatchResult
		if !decode(cl, env.Payload, &p) {
			return
		}
		if err := s.coord.Report(cl.playerID(), p); err != nil {
			s.replyError(cl, err)
		}

	default:
		obslog.L().Warn("ws_unknown_type", zap.String("type", env.Type))
		s.replyKey(cl, "generic.unknown_type", "Unknown message type")
	}
}

// replyError maps service errors onto catalog messages for the client.
func (s *Server) replyError(cl *client, err error) {
	key, fallback := "generic.internal", "Internal server error"
	switch {
	case errors.Is(err, matchmaking.ErrPlayerNotFound):
		key, fallback = "matchmaking.player_not_found", "Player not found"
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		key, fallback = "matchmaking.already_queued", "Already searching for a match"
	case errors.Is(err, matchmaking.ErrBusy):
		key, fallback = "matchmaking.busy_in_session", "Already in a match"
	case errors.Is(err, session.ErrNotFound):
		key, fallback = "session.not_found", "Match not found"
	case errors.Is(err, session.ErrNotParticipant):
		key, fallback = "session.not_participant", "You are not part of this match"
	case errors.Is(err, session.ErrOutOfTurn):
		key, fallback = "session.out_of_turn", "It is not your turn"
	case errors.Is(err, session.ErrNotActive):
		key, fallback = "session.not_active", "The match is not in progress"
	case errors.Is(err, rules.ErrIllegalMove):
		key, fallback = "session.illegal_move", "Illegal move"
	case errors.Is(err, rules.ErrSelfCheck):
		key, fallback = "session.self_check", "That move would leave your king in check"
	case errors.Is(err, session.ErrBadResult):
		key, fallback = "generic.bad_payload", "Malformed message payload"
	default:
		obslog.L().Error("ws_handler_error", zap.String("player_id", cl.playerID()), zap.Error(err))
	}
	s.replyKey(cl, key, fallback)
}

func (s *Server) replyKey(cl *client, key, fallback string) {
	text := fallback
	if s.cat != nil {
		if rendered, err := s.cat.Render(key, nil); err == nil {
			text = rendered
		}
	}
	_ = cl.conn.Send(wire.TypeMatchError, wire.MatchError{Message: text})
}

func decode(cl *client, raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		obslog.L().Warn("ws_bad_payload", zap.Error(err))
		cl.srv.replyKey(cl, "generic.bad_payload", "Malformed message payload")
		return false
	}
	return true
}

// client is one connected player. The id is learned from the first envelope
// that carries one and is what disconnect cleanup keys on.
type client struct {
	conn *wsConn
	srv  *Server

	mu sync.Mutex
	id string
}

func (c *client) setPlayerID(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

func (c *client) playerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// teardown releases everything the player held: their queue slot and, via the
// grace timer, eventually their session.
func (c *client) teardown() {
	id := c.playerID()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c.srv.matchmaker.Disconnect(ctx, id)
	c.srv.coord.HandleDisconnect(id)
}

// wsConn adapts a websocket to the services' send interface. The mutex
// serializes writers; the session coordinator and the read loop both send.
type wsConn struct {
	mu  sync.Mutex
	ws  *websocket.Conn
	ctx context.Context
}

var _ arena.Conn = (*wsConn)(nil)

func (c *wsConn) Send(msgType string, payload any) error {
	env, err := wire.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, env)
}
