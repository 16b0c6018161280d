package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chessarena/internal/arena"
	"chessarena/internal/matchmaking"
	"chessarena/internal/msgcat"
	"chessarena/internal/player"
	"chessarena/internal/session"
	"chessarena/pkg/wire"
)

func newTestServer(t *testing.T) (*httptest.Server, *player.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	players := player.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	store := arena.NewStore()
	matchmaker := matchmaking.NewService(store, players, 100, 600)
	coord := session.NewCoordinator(store, players, 30*time.Second, 250*time.Millisecond)
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}

	srv := httptest.NewServer(NewServer(matchmaker, coord, cat, 10*time.Second).Handler())
	t.Cleanup(srv.Close)
	return srv, players
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(msgType, payload)
	if err != nil {
		t.Fatalf("envelope %s: %v", msgType, err)
	}
	if err := wsjson.Write(ctx, conn, env); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// expect reads the next envelope and fails unless it has the wanted type.
func expect(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string) wire.Envelope {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var env wire.Envelope
	if err := wsjson.Read(readCtx, conn, &env); err != nil {
		t.Fatalf("read (want %s): %v", msgType, err)
	}
	if env.Type != msgType {
		t.Fatalf("got %s envelope, want %s (payload %s)", env.Type, msgType, env.Payload)
	}
	return env
}

func decodeAs[T any](t *testing.T, env wire.Envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return out
}

func seed(t *testing.T, players *player.Store, id string, rating int) {
	t.Helper()
	if err := players.Create(context.Background(), &player.Player{ID: id, Name: "name-" + id, Rating: rating}); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestMatchOverWebsocket(t *testing.T) {
	srv, players := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	seed(t, players, "u1", 1200)
	seed(t, players, "u2", 1250)

	ws1 := dial(t, ctx, srv)
	ws2 := dial(t, ctx, srv)

	send(t, ctx, ws1, wire.TypeFindMatch, wire.FindMatch{PlayerID: "u1", TimeControl: 300})
	ack := decodeAs[wire.Matchmaking](t, expect(t, ctx, ws1, wire.TypeMatchmaking))
	if ack.Status != wire.StatusSearching {
		t.Fatalf("ack status = %s", ack.Status)
	}

	send(t, ctx, ws2, wire.TypeFindMatch, wire.FindMatch{PlayerID: "u2", TimeControl: 300})
	expect(t, ctx, ws2, wire.TypeMatchmaking)

	found1 := decodeAs[wire.MatchFound](t, expect(t, ctx, ws1, wire.TypeMatchFound))
	found2 := decodeAs[wire.MatchFound](t, expect(t, ctx, ws2, wire.TypeMatchFound))
	if found1.SessionID != found2.SessionID {
		t.Fatalf("session split: %s vs %s", found1.SessionID, found2.SessionID)
	}
	if found1.Color == found2.Color {
		t.Fatalf("both players got %s", found1.Color)
	}
	if found1.Opponent.ID != "u2" || found2.Opponent.ID != "u1" {
		t.Fatalf("opponent summaries wrong: %+v / %+v", found1.Opponent, found2.Opponent)
	}

	send(t, ctx, ws1, wire.TypePlayerReady, wire.PlayerReady{SessionID: found1.SessionID, PlayerID: "u1"})
	send(t, ctx, ws2, wire.TypePlayerReady, wire.PlayerReady{SessionID: found2.SessionID, PlayerID: "u2"})
	expect(t, ctx, ws1, wire.TypeBothPlayersReady)
	expect(t, ctx, ws2, wire.TypeBothPlayersReady)

	// white opens e2-e4; the move must arrive on the other socket only.
	whiteWS, blackWS := ws1, ws2
	whiteID := "u1"
	if found1.Color != "white" {
		whiteWS, blackWS = ws2, ws1
		whiteID = "u2"
	}
	send(t, ctx, whiteWS, wire.TypeChessMove, wire.ChessMove{
		RoomID: found1.RoomID,
		From:   wire.Square{Row: 6, Col: 4},
		To:     wire.Square{Row: 4, Col: 4},
	})
	mv := decodeAs[wire.OpponentMove](t, expect(t, ctx, blackWS, wire.TypeOpponentMove))
	if mv.To != (wire.Square{Row: 4, Col: 4}) {
		t.Fatalf("relayed move = %+v", mv)
	}

	// black resigns; both sockets hear the verdict with updated ratings.
	var blackID string
	if whiteID == "u1" {
		blackID = "u2"
	} else {
		blackID = "u1"
	}
	send(t, ctx, blackWS, wire.TypeResign, wire.Resign{SessionID: found1.SessionID, PlayerID: blackID})
	ended1 := decodeAs[wire.MatchEnded](t, expect(t, ctx, ws1, wire.TypeMatchEnded))
	ended2 := decodeAs[wire.MatchEnded](t, expect(t, ctx, ws2, wire.TypeMatchEnded))
	if ended1.Winner != whiteID || ended2.Winner != whiteID {
		t.Fatalf("winner = %s/%s, want %s", ended1.Winner, ended2.Winner, whiteID)
	}

	winner, err := players.Get(ctx, whiteID)
	if err != nil {
		t.Fatalf("Get winner: %v", err)
	}
	if winner.Wins != 1 {
		t.Fatalf("winner wins = %d, want 1", winner.Wins)
	}
}

func TestFindMatchUnknownPlayerGetsError(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := dial(t, ctx, srv)
	send(t, ctx, ws, wire.TypeFindMatch, wire.FindMatch{PlayerID: "ghost", TimeControl: 300})
	msg := decodeAs[wire.MatchError](t, expect(t, ctx, ws, wire.TypeMatchError))
	if msg.Message == "" {
		t.Fatal("error reply must carry a message")
	}
}

func TestUnknownEnvelopeType(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := dial(t, ctx, srv)
	send(t, ctx, ws, "teleport", nil)
	expect(t, ctx, ws, wire.TypeMatchError)
}

func TestDisconnectClearsQueue(t *testing.T) {
	srv, players := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seed(t, players, "u1", 1200)
	ws := dial(t, ctx, srv)
	send(t, ctx, ws, wire.TypeFindMatch, wire.FindMatch{PlayerID: "u1", TimeControl: 300})
	expect(t, ctx, ws, wire.TypeMatchmaking)

	_ = ws.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p, err := players.Get(context.Background(), "u1")
		if err == nil && !p.IsSearching {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("disconnect must clear the searching flag")
}
