package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alfredjeanlab/aegis/internal/config"
	"github.com/alfredjeanlab/aegis/internal/events"
	"github.com/alfredjeanlab/aegis/internal/listener"
	"github.com/alfredjeanlab/aegis/internal/registry"
	"github.com/alfredjeanlab/aegis/internal/server"
	"github.com/alfredjeanlab/aegis/internal/store"
	"github.com/alfredjeanlab/aegis/internal/store/memory"
	"github.com/alfredjeanlab/aegis/internal/store/postgres"
	logsync "github.com/alfredjeanlab/aegis/internal/sync"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the command center",
	GroupID: "server",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// A missing or unreadable certificate is fatal before anything binds.
		tlsCfg, err := listener.LoadTLSConfig(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return err
		}

		logStore, err := openStore(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}

		reg := registry.New()
		if cfg.IdleThreshold > 0 {
			reg.StartSweeper(&registry.SweepConfig{
				IdleThreshold: cfg.IdleThreshold,
				OnIdle: func(deviceID, connID string, idle time.Duration) {
					logger.Warn("device idle", "device_id", deviceID, "conn_id", connID, "idle", idle.Truncate(time.Second))
				},
			})
			logger.Info("idle sweeper enabled", "threshold", cfg.IdleThreshold)
		}

		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				reg.Stop()
				logStore.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.DiscardPublisher{}
			logger.Info("events disabled (AEGIS_NATS_URL not set)")
		}

		var lis *listener.Listener
		center := server.NewCommandCenter(server.Options{
			Store:       logStore,
			Publisher:   publisher,
			Registry:    reg,
			Port:        strconv.Itoa(cfg.ListenPort()),
			Console:     os.Stdout,
			Logger:      logger,
			ActiveConns: func() int64 { return lis.Active() },
		})
		dispatcher := events.NewSerial(center, events.DefaultSerialBuffer)

		lis = listener.New(listener.Config{
			Addr:     cfg.ListenAddr,
			TLS:      tlsCfg,
			MaxConns: cfg.MaxConns,
			Logger:   logger,
		}, reg, dispatcher)
		if err := lis.Listen(); err != nil {
			dispatcher.Close()
			publisher.Close()
			reg.Stop()
			logStore.Close()
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		serveDone := make(chan error, 1)
		go func() {
			serveDone <- lis.Serve(ctx)
		}()

		// gRPC health + reflection.
		grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken)
		grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("gRPC listen failed, health service disabled", "addr", cfg.GRPCAddr, "err", err)
			grpcServer = nil
		} else {
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(grpcLis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
		}

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           center.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startArchive(cfg, logStore, logger)

		logger.Info("aegis started",
			"listen_addr", lis.Addr().String(),
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
		)

		// Wait for a signal, or for the acceptor to exit on its own.
		var serveErr error
		select {
		case <-ctx.Done():
			logger.Info("received signal, shutting down")
			serveErr = <-serveDone
		case serveErr = <-serveDone:
			cancel()
		}
		healthServer.Shutdown()
		if serveErr != nil {
			logger.Error("listener error", "err", serveErr)
		}
		logger.Info("listener stopped", "active_conns", lis.Active())

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("log archive stopped")
		}

		if grpcServer != nil {
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		// Connections are not forced closed; give running handlers until the
		// deadline to finish their current read.
		if err := lis.Wait(shutdownCtx); err != nil {
			logger.Warn("connection handlers still running at shutdown", "active_conns", lis.Active())
		}

		dispatcher.Close()
		reg.Stop()

		if d, ok := publisher.(*events.DiscardPublisher); ok {
			logger.Debug("events not published (no NATS)", "count", d.Dropped())
		}
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := logStore.Close(); err != nil {
			logger.Error("error closing log store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// openStore selects the log store by URL scheme. "memory://" keeps the log in
// process memory; anything else is a PostgreSQL URL.
func openStore(databaseURL string, logger *slog.Logger) (store.LogStore, error) {
	if strings.HasPrefix(databaseURL, "memory://") {
		logger.Warn("using in-memory log store; records are lost on exit")
		return memory.New(), nil
	}
	pg, err := postgres.New(databaseURL)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// startArchive starts the log archive scheduler when an interval and at least
// one destination are configured.
func startArchive(cfg *config.Config, logStore store.LogStore, logger *slog.Logger) *logsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}

	var dests []logsync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := logsync.NewS3Destination(
			context.Background(),
			cfg.SyncS3Bucket,
			cfg.SyncS3Key,
			cfg.SyncS3Region,
			cfg.SyncS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 archive destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("archive S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, logsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("archive git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	if len(dests) == 0 {
		logger.Warn("AEGIS_SYNC_INTERVAL set but no archive destination configured")
		return nil
	}

	scheduler := logsync.NewScheduler(logStore, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("log archive started", "interval", cfg.SyncInterval)
	return scheduler
}
