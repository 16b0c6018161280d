package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"chessarena/internal/archive"
	"chessarena/internal/arena"
	"chessarena/internal/config"
	"chessarena/internal/httpapi"
	"chessarena/internal/matchmaking"
	"chessarena/internal/msgcat"
	"chessarena/internal/obslog"
	"chessarena/internal/player"
	"chessarena/internal/session"
	"chessarena/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		obslog.L().Fatal("redis_url_error", zap.Error(err))
	}
	rdb := redis.NewClient(opts)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		obslog.L().Fatal("redis_connect_error", zap.Error(err))
	}
	pingCancel()

	players := player.NewStore(rdb)
	store := arena.NewStore()

	cat, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		obslog.L().Fatal("msgcat_error", zap.Error(err))
	}

	matchmaker := matchmaking.NewService(store, players, cfg.RatingWindow, cfg.DefaultTimeControl)
	coord := session.NewCoordinator(store, players, cfg.ReconnectGrace, 250*time.Millisecond)
	coord.AttachCatalog(cat)
	api := httpapi.NewServer(players)

	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Fatal("archive_init_error", zap.Error(err))
		}
		matchmaker.AttachRepository(repo)
		coord.AttachRepository(repo)
		api.AttachRepository(repo)
	}

	ws := transport.NewServer(matchmaker, coord, cat, cfg.HeartbeatInterval)
	wsSrv := &http.Server{Addr: cfg.WSAddr, Handler: ws.Handler()}
	apiSrv := &fasthttp.Server{Handler: api.Handler, Name: "arena-api"}

	go func() {
		obslog.L().Info("ws_listen", zap.String("addr", cfg.WSAddr))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.L().Fatal("ws_serve_error", zap.Error(err))
		}
	}()
	go func() {
		obslog.L().Info("api_listen", zap.String("addr", cfg.APIAddr))
		if err := apiSrv.ListenAndServe(cfg.APIAddr); err != nil {
			obslog.L().Fatal("api_serve_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("shutdown_begin")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = wsSrv.Shutdown(shutdownCtx)
	_ = apiSrv.ShutdownWithContext(shutdownCtx)
	if repo != nil {
		_ = repo.Close()
	}
	_ = rdb.Close()
	obslog.L().Info("shutdown_complete")
}
