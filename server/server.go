package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VoteFM/cache"
	"VoteFM/config"
	"VoteFM/core/auth"
	"VoteFM/core/room"
	"VoteFM/db"
	"VoteFM/logger"
	"VoteFM/repository"
	"VoteFM/storage"

	"github.com/gorilla/mux"
)

// App 组装好的服务依赖
type App struct {
	Manager *room.Manager
	Auth    *auth.Service
	Handler http.Handler

	closers []func()
}

// Close releases database and cache connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// NewRouter builds the HTTP routes over an already wired manager.
func NewRouter(ctx context.Context, manager *room.Manager, authSvc *auth.Service, users repository.UserRepository) *mux.Router {
	authHandler := NewAuthHandler(authSvc)
	roomHandler := NewRoomHandler(manager)
	userHandler := NewUserHandler(users, manager.Registry())

	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/login", authHandler.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/register", authHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/user/profile", authHandler.AuthMiddleware(userHandler.GetUserProfileHandler)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)

	RegisterRoomRoutes(router, roomHandler, authHandler.AuthMiddleware)

	// WebSocket 路由，认证在升级后进行
	router.Handle("/ws", NewWSHandler(ctx, manager))
	return router
}

// Build wires storage, presence and blob drivers selected by cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}
	deps := room.Deps{}

	switch cfg.StoreDriver {
	case config.StoreMySQL:
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() {
			if err := db.Close(gdb); err != nil {
				logger.Warn("failed to close database", logger.ErrorField(err))
			}
		})
		if err := db.AutoMigrate(gdb); err != nil {
			app.Close()
			return nil, err
		}
		deps.Rooms = repository.NewGormRoomRepository(gdb)
		deps.Tracks = repository.NewGormTrackRepository(gdb)
		deps.Votes = repository.NewGormVoteRepository(gdb)
		deps.Users = repository.NewGormUserRepository(gdb)

		blobs, err := storage.NewMinioStore(cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			app.Close()
			return nil, err
		}
		deps.Blobs = blobs

	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		store := repository.NewMemoryStore()
		deps.Rooms, deps.Tracks, deps.Votes, deps.Users = store.Rooms(), store.Tracks(), store.Votes(), store.Users()
		deps.Blobs = storage.NewMemoryBlobStore()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.PresenceDriver == config.PresenceRedis {
		client, err := cache.ConnectRedis(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() { client.Close() })
		deps.Presence = cache.NewPresence(client)
		logger.Info("Successfully connected to Redis")
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	app.Auth = auth.NewService(deps.Users, tokens)
	deps.Verifier = app.Auth

	app.Manager = room.NewManager(deps, room.Config{
		AuthTimeout:  cfg.AuthTimeout,
		StaleTimeout: cfg.StaleTimeout,
		SendBuffer:   cfg.SendBuffer,
		AutoAdvance:  cfg.AutoAdvance,
	})
	app.Handler = NewRouter(ctx, app.Manager, app.Auth, deps.Users)
	return app, nil
}

// Start initializes and runs the HTTP server until SIGINT or SIGTERM.
func Start(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	go app.Manager.RunSweeper(ctx, cfg.SweepInterval)

	// 设置服务器超时
	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     app.Handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			logger.String("addr", cfg.HTTPAddr),
			logger.String("store", cfg.StoreDriver),
			logger.String("presence", cfg.PresenceDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// 等待中断信号
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}
	logger.Info("Shutting down server...")

	app.Manager.Shutdown()

	// 创建一个5秒超时的上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
