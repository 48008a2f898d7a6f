package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-progress/internal/app"
	"quiz-progress/internal/config"
	"quiz-progress/internal/infra/memory"
	pgmirror "quiz-progress/internal/infra/postgres"
	redismirror "quiz-progress/internal/infra/redis"
	"quiz-progress/internal/infra/rest"
	"quiz-progress/internal/logger"
	"quiz-progress/internal/metrics"
	transport "quiz-progress/internal/transport/http"
)

// NewServeCmd builds the subcommand that serves quiz views over websocket.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve quiz views over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg)
	defer log.Sync()

	if cfg.Backend.BaseURL == "" {
		return errors.New("backend base_url not configured")
	}
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	mirror, closeMirror, err := buildMirror(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMirror()

	client := newBackendClient(cfg, log)
	newSession := func(userID int64) *app.LearnerSession {
		return app.NewLearnerSession(userID, app.SessionDeps{
			Backend:   client,
			Mirror:    mirror,
			PassRatio: cfg.Quiz.PassRatio,
			Logger:    log,
		})
	}

	metrics.Init()
	wsHandler := transport.NewWSHandler(newSession, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz view gateway", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildMirror prefers Redis, then Postgres, then process memory.
func buildMirror(ctx context.Context, cfg config.Config) (app.LedgerMirror, func(), error) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
		return redismirror.NewLedgerMirror(client, ttl), func() { _ = client.Close() }, nil
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		return pgmirror.NewLedgerMirror(pool), pool.Close, nil
	}
	return memory.NewLedgerMirror(), func() {}, nil
}

func newBackendClient(cfg config.Config, log *zap.Logger) *rest.Client {
	return rest.NewClient(rest.Options{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: config.TTLDuration(cfg.Backend.Timeout, 15*time.Second),
		Token:   cfg.Backend.Token,
		Logger:  log,
	})
}
