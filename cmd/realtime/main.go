package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/umrahops/realtime/internal/auth"
	"github.com/umrahops/realtime/internal/broadcast"
	"github.com/umrahops/realtime/internal/handler"
	"github.com/umrahops/realtime/internal/notify"
	"github.com/umrahops/realtime/internal/postgres"
	"github.com/umrahops/realtime/internal/presence"
	"github.com/umrahops/realtime/internal/server"
	"go.uber.org/zap"
)

type App struct {
	logger          *zap.Logger
	settings        Settings
	store           *postgres.NotificationStore
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(ctx context.Context, logger *zap.Logger, settings Settings) (*App, error) {
	pool, err := postgres.Connect(ctx, settings.DatabaseURL)
	if err != nil {
		return nil, err
	}

	store := postgres.NewNotificationStore(pool)
	directory := postgres.NewDirectory(pool)

	gate := auth.NewGate(settings.JWTSecret, directory)
	registry := presence.NewRegistry(logger)
	broadcastRouter := broadcast.NewRouter(logger, registry)
	dispatcher := notify.NewDispatcher(logger, store, broadcastRouter)

	roomNameValidator := handler.NewRoomNameValidator()
	pingHandler := handler.NewPingHandler()
	joinRoomHandler := handler.NewJoinRoomHandler(roomNameValidator, registry)
	leaveRoomHandler := handler.NewLeaveRoomHandler(roomNameValidator, registry)
	typingHandler := handler.NewTypingHandler(broadcastRouter)

	router := server.NewRouter(
		logger,
		pingHandler,
		joinRoomHandler,
		leaveRoomHandler,
		typingHandler,
	)

	originChecker := server.NewOriginChecker(settings.allowedOrigins())
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		gate,
		registry,
		broadcastRouter,
		router,
	)
	restServer := server.NewRESTServer(
		logger,
		gate,
		registry,
		broadcastRouter,
		store,
		dispatcher,
	)

	return &App{
		logger,
		settings,
		store,
		websocketServer,
		restServer,
	}, nil
}

func (a *App) setup(ctx context.Context) error {
	if err := a.store.Setup(ctx); err != nil {
		return err
	}

	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	go a.runPurgeSweeper(notifyCtx)

	a.startHttpServer(notifyCtx)

	return nil
}

// runPurgeSweeper periodically deletes expired notifications. Readers may
// race with the sweep; that is fine, the views are eventually consistent.
func (a *App) runPurgeSweeper(ctx context.Context) {
	interval := time.Duration(a.settings.PurgeIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.store.PurgeExpired(ctx)
			if err != nil {
				a.logger.Error("failed to purge expired notifications", zap.Error(err))
				continue
			}

			if purged > 0 {
				a.logger.Info("purged expired notifications", zap.Int("count", purged))
			}
		}
	}
}

func (a *App) startHttpServer(ctx context.Context) {
	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-ctx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Fatal("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	bootstrapLogger, _ := zap.NewDevelopment()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		bootstrapLogger.Fatal("failed to parse settings from environment", zap.Error(err))
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		bootstrapLogger.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	app, err := NewApp(ctx, logger, settings)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}

	err = app.setup(ctx)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}
}
