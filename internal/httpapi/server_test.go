package httpapi

import (
	"context"
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"chessarena/internal/player"
)

func newTestAPI(t *testing.T) (*Server, *player.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	players := player.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewServer(players), players
}

func do(t *testing.T, srv *Server, method, uri string, body []byte) *fasthttp.RequestCtx {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != nil {
		req.SetBody(body)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	srv.Handler(&ctx)
	return &ctx
}

func decodeBody[T any](t *testing.T, ctx *fasthttp.RequestCtx) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(ctx.Response.Body(), &out); err != nil {
		t.Fatalf("decode body %q: %v", ctx.Response.Body(), err)
	}
	return out
}

func TestCreateAndGetPlayer(t *testing.T) {
	srv, _ := newTestAPI(t)

	body := []byte(`{"id":"u1","name":"Magnus"}`)
	ctx := do(t, srv, fasthttp.MethodPost, "/v1/players", body)
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("create status = %d, body %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	created := decodeBody[player.Player](t, ctx)
	if created.Rating != player.DefaultRating {
		t.Fatalf("rating = %d, want default %d", created.Rating, player.DefaultRating)
	}

	ctx = do(t, srv, fasthttp.MethodGet, "/v1/players/u1", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("get status = %d", ctx.Response.StatusCode())
	}
	got := decodeBody[player.Player](t, ctx)
	if got.Name != "Magnus" {
		t.Fatalf("name = %q", got.Name)
	}

	if ctx = do(t, srv, fasthttp.MethodPost, "/v1/players", body); ctx.Response.StatusCode() != fasthttp.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", ctx.Response.StatusCode())
	}
	if ctx = do(t, srv, fasthttp.MethodGet, "/v1/players/ghost", nil); ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("missing player status = %d, want 404", ctx.Response.StatusCode())
	}
	if ctx = do(t, srv, fasthttp.MethodPost, "/v1/players", []byte(`{"name":"anon"}`)); ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("missing id status = %d, want 400", ctx.Response.StatusCode())
	}
}

func TestOpponentsRespectsWindow(t *testing.T) {
	srv, players := newTestAPI(t)
	ctx := context.Background()
	for id, rating := range map[string]int{"a": 1200, "b": 1290, "c": 1400} {
		if err := players.Create(ctx, &player.Player{ID: id, Name: id, Rating: rating}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	rctx := do(t, srv, fasthttp.MethodGet, "/v1/players/a/opponents?window=100", nil)
	if rctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d", rctx.Response.StatusCode())
	}
	got := decodeBody[[]player.Player](t, rctx)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("candidates = %+v, want just b", got)
	}

	rctx = do(t, srv, fasthttp.MethodGet, "/v1/players/a/opponents?window=300", nil)
	if got = decodeBody[[]player.Player](t, rctx); len(got) != 2 {
		t.Fatalf("wide window candidates = %+v, want b and c", got)
	}
}

func TestLeaderboardOrder(t *testing.T) {
	srv, players := newTestAPI(t)
	ctx := context.Background()
	for id, rating := range map[string]int{"low": 1100, "mid": 1300, "top": 1500} {
		if err := players.Create(ctx, &player.Player{ID: id, Name: id, Rating: rating}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	rctx := do(t, srv, fasthttp.MethodGet, "/v1/leaderboard?limit=2", nil)
	got := decodeBody[[]player.Player](t, rctx)
	if len(got) != 2 || got[0].ID != "top" || got[1].ID != "mid" {
		t.Fatalf("leaderboard = %+v", got)
	}
}

func TestMatchEndpointWithoutArchive(t *testing.T) {
	srv, _ := newTestAPI(t)
	ctx := do(t, srv, fasthttp.MethodGet, "/v1/matches/some-id", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", ctx.Response.StatusCode())
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestAPI(t)
	ctx := do(t, srv, fasthttp.MethodGet, "/v1/nope", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", ctx.Response.StatusCode())
	}
}
