// Package httpapi is the arena's REST surface: player registration and
// lookup, opponent discovery, the leaderboard, and archived match retrieval.
// It rides fasthttp with a hand-rolled path switch; the route count does not
// justify a router dependency.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"chessarena/internal/archive"
	"chessarena/internal/obslog"
	"chessarena/internal/player"
)

const requestTimeout = 10 * time.Second

// Server answers the REST endpoints under /v1.
type Server struct {
	players *player.Store
	repo    *archive.Repository // optional
}

func NewServer(players *player.Store) *Server {
	return &Server{players: players}
}

// AttachRepository enables GET /v1/matches when an archive is configured.
func (s *Server) AttachRepository(r *archive.Repository) {
	if s != nil {
		s.repo = r
	}
}

// Handler is the fasthttp entry point.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	path := string(ctx.Path())
	method := string(ctx.Method())
	parts := splitPath(path)

	switch {
	case method == fasthttp.MethodPost && path == "/v1/players":
		s.createPlayer(reqCtx, ctx)
	case method == fasthttp.MethodGet && len(parts) == 3 && parts[0] == "v1" && parts[1] == "players":
		s.getPlayer(reqCtx, ctx, parts[2])
	case method == fasthttp.MethodGet && len(parts) == 4 && parts[0] == "v1" && parts[1] == "players" && parts[3] == "opponents":
		s.getOpponents(reqCtx, ctx, parts[2])
	case method == fasthttp.MethodGet && path == "/v1/leaderboard":
		s.getLeaderboard(reqCtx, ctx)
	case method == fasthttp.MethodGet && len(parts) == 3 && parts[0] == "v1" && parts[1] == "matches":
		s.getMatch(reqCtx, ctx, parts[2])
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

type createPlayerRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating,omitempty"`
}

func (s *Server) createPlayer(reqCtx context.Context, ctx *fasthttp.RequestCtx) {
	var req createPlayerRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "malformed body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "id and name are required")
		return
	}
	p := &player.Player{ID: req.ID, Name: req.Name, Rating: req.Rating}
	if err := s.players.Create(reqCtx, p); err != nil {
		if errors.Is(err, player.ErrExists) {
			writeError(ctx, fasthttp.StatusConflict, "player already exists")
			return
		}
		s.internalError(ctx, "player_create", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, p)
}

func (s *Server) getPlayer(reqCtx context.Context, ctx *fasthttp.RequestCtx, id string) {
	p, err := s.players.Get(reqCtx, id)
	if err != nil {
		if errors.Is(err, player.ErrNotFound) {
			writeError(ctx, fasthttp.StatusNotFound, "player not found")
			return
		}
		s.internalError(ctx, "player_get", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, p)
}

func (s *Server) getOpponents(reqCtx context.Context, ctx *fasthttp.RequestCtx, id string) {
	p, err := s.players.Get(reqCtx, id)
	if err != nil {
		if errors.Is(err, player.ErrNotFound) {
			writeError(ctx, fasthttp.StatusNotFound, "player not found")
			return
		}
		s.internalError(ctx, "opponents_get", err)
		return
	}
	window := queryInt(ctx, "window", 100)
	candidates, err := s.players.OpponentsInBand(reqCtx, p.Rating, window, p.ID)
	if err != nil {
		s.internalError(ctx, "opponents_band", err)
		return
	}
	if candidates == nil {
		candidates = []*player.Player{}
	}
	writeJSON(ctx, fasthttp.StatusOK, candidates)
}

func (s *Server) getLeaderboard(reqCtx context.Context, ctx *fasthttp.RequestCtx) {
	limit := queryInt(ctx, "limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}
	top, err := s.players.Leaderboard(reqCtx, limit)
	if err != nil {
		s.internalError(ctx, "leaderboard", err)
		return
	}
	if top == nil {
		top = []*player.Player{}
	}
	writeJSON(ctx, fasthttp.StatusOK, top)
}

func (s *Server) getMatch(reqCtx context.Context, ctx *fasthttp.RequestCtx, id string) {
	if s.repo == nil {
		writeError(ctx, fasthttp.StatusServiceUnavailable, "match archive not configured")
		return
	}
	m, err := s.repo.GetMatch(reqCtx, id)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(ctx, fasthttp.StatusNotFound, "match not found")
			return
		}
		s.internalError(ctx, "match_get", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, m)
}

func (s *Server) internalError(ctx *fasthttp.RequestCtx, op string, err error) {
	obslog.L().Error("api_error", zap.String("op", op), zap.Error(err))
	writeError(ctx, fasthttp.StatusInternalServerError, "internal error")
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		obslog.L().Error("api_marshal_error", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(payload)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func queryInt(ctx *fasthttp.RequestCtx, key string, def int) int {
	raw := string(ctx.QueryArgs().Peek(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func splitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}
