package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"semaphore/coursework/internal/cascade"
	"semaphore/coursework/internal/clients"
	"semaphore/coursework/internal/config"
	"semaphore/coursework/internal/coursework"
	"semaphore/coursework/internal/db"
	"semaphore/coursework/internal/db/postgres"
	"semaphore/coursework/internal/db/sqlite"
	"semaphore/coursework/internal/events"
	coursegrpc "semaphore/coursework/internal/grpc"
	internalhttp "semaphore/coursework/internal/http"
	"semaphore/coursework/internal/jobs"
	"semaphore/coursework/internal/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	tp, err := telemetry.NewTracerProvider(ctx, cfg.TraceExporter, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	metrics := telemetry.NewMetrics()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("store close error")
		}
	}()

	redisClient, err := clients.NewRedis(ctx, clients.RedisOptions{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisDialTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
	})
	if err != nil {
		return err
	}
	probes := []coursegrpc.Probe{{Name: "database", Check: store.Ping}}
	var broker events.Broker
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error().Err(err).Msg("redis close error")
			}
		}()
		broker = events.NewRedisBroker(redisClient, cfg.EventStream, cfg.EventStreamMaxLen, cfg.EventMaxBatchBytes)
		probes = append(probes, coursegrpc.Probe{Name: "redis", Check: redisProbe(redisClient)})
	} else {
		log.Warn().Msg("REDIS_ADDR not set, result events will not be delivered")
		broker = events.NewDisabledBroker(cfg.EventMaxBatchBytes)
	}

	publisher := events.NewPublisher(broker, log, metrics)
	service := coursework.New(store, cascade.New(store, log, metrics), publisher, log)

	health := coursegrpc.NewHealthReporter()
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	jobs.StartHealthProbe(ctx, jobs.HealthProbeConfig{
		Interval: cfg.HealthProbeInterval,
		Timeout:  cfg.HealthProbeTimeout,
	}, health, probes, metrics, log)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           internalhttp.NewServer(service, health, metrics, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("coursework http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("coursework grpc listening")
		if err := grpcServer.Serve(listener); err != nil {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case runErr = <-errc:
		log.Error().Err(runErr).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	health.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	grpcServer.GracefulStop()
	if err := service.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pending result events abandoned")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown error")
	}
	return runErr
}

func openStore(ctx context.Context, cfg config.Config) (db.Gateway, error) {
	if cfg.DatabaseDriver == "sqlite" {
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.MigrateOnStart {
			if err := store.Migrate(0); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		return store, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(pool, 0); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return postgres.NewStore(pool), nil
}

func redisProbe(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
