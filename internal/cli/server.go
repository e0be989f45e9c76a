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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"liveclass-service/internal/app"
	"liveclass-service/internal/config"
	"liveclass-service/internal/infra/memory"
	pgstore "liveclass-service/internal/infra/postgres"
	infraredis "liveclass-service/internal/infra/redis"
	"liveclass-service/internal/logger"
	transport "liveclass-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assignment API and change feed server",
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
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

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

	var repo app.AssignmentRepository = memory.NewAssignmentRepository()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = pgstore.NewAssignmentRepository(pool)
		log.Info().Msg("Using Postgres assignment store")
	} else {
		log.Warn().Msg("Postgres not configured, assignments are kept in memory")
	}

	hub := app.NewHub(cfg.Feed.Buffer)
	var (
		publisher app.ChangePublisher = hub
		presence  transport.Presence  = memory.NewPresence()
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		broker := infraredis.NewFeedBroker(client, hub, log)
		go func() {
			if err := broker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Feed broker stopped")
			}
		}()
		publisher = broker
		presence = infraredis.NewPresence(client, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Relaying change feed through Redis")
	}

	service := app.NewAssignmentService(repo, publisher, config.TTLDuration(cfg.Checkin.TTL, 10*time.Minute), log)
	wsHandler := transport.NewWSHandler(hub, presence,
		config.TTLDuration(cfg.Feed.PingInterval, 30*time.Second), cfg.Server.AllowedOrigins, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	transport.NewAPIHandler(service, presence, log).Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("Starting liveclass service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, log)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return server.Shutdown(shutdownCtx)
}

func waitForShutdown(ctx context.Context, log zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
		log.Info().Msg("Shutting down")
	case <-ctx.Done():
		log.Info().Msg("Context canceled, shutting down")
	}
}
