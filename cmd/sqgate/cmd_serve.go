// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/teradata-labs/sqgate/pkg/convert"
	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/gateway"
	"github.com/teradata-labs/sqgate/pkg/metrics"
	"github.com/teradata-labs/sqgate/pkg/poller"
	"github.com/teradata-labs/sqgate/pkg/server"
	"github.com/teradata-labs/sqgate/pkg/sources"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sqgate gRPC server",
	Long: `Start the gateway with its gRPC API.

The server will:
- Register the local catalog and any sources listed in the sources file
- Poll standing queries on the configured interval
- Record poll history in SQLite (if enabled)
- Serve health, Prometheus metrics and result events over HTTP (if enabled)

Press Ctrl+C to gracefully shutdown.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	if err := config.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := buildLogger(config.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting sqgate", zap.String("version", rootCmd.Version))

	configFileUsed := viper.ConfigFileUsed()
	if configFileUsed != "" {
		logger.Info("Config file loaded", zap.String("path", configFileUsed))
	} else {
		logger.Info("No config file found", zap.String("searched", "$SQGATE_DATA_DIR/sqgate.yaml, ./sqgate.yaml, /etc/sqgate/sqgate.yaml"))
		logger.Info("Using defaults + environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, config, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// buildLogger creates a production logger (stack traces only for ERROR level).
func buildLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	logLevel := zap.InfoLevel
	if cfg.Level != "" {
		if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	if cfg.Format == "text" {
		zapConfig.Encoding = "console"
	}
	if cfg.File != "" {
		zapConfig.OutputPaths = []string{cfg.File}
		zapConfig.ErrorOutputPaths = []string{cfg.File}
	}

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}

// serve wires the gateway and blocks until ctx is canceled or a listener fails.
func serve(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	federator := federation.NewFederator(federation.Config{
		Logger:         logger.Named("federation"),
		MaxConcurrency: cfg.Federation.MaxConcurrency,
		QueryTimeout:   cfg.Federation.QueryTimeout,
		SourceRate:     rate.Limit(cfg.Federation.SourceRate),
		SourceBurst:    cfg.Federation.SourceBurst,
	})
	// The sources file may replace the local catalog with its own definition.
	federator.Register(federation.NewMemorySource(federation.LocalSourceID))

	loader, watcher, err := startSources(ctx, cfg.Federation, federator, logger)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	var store *poller.Store
	if cfg.Poller.HistoryEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Poller.HistoryDB), 0o750); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
		store, err = poller.NewStore(ctx, cfg.Poller.HistoryDB, logger.Named("history"))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		logger.Info("Poll history enabled", zap.String("path", cfg.Poller.HistoryDB))
	}

	m := metrics.New(nil)
	svc, err := gateway.New(gateway.Config{
		Searcher: federator,
		Converter: convert.New(convert.Config{
			OutgoingValidation:  cfg.Converter.OutgoingValidation,
			MandatoryAttributes: cfg.Converter.MandatoryAttributes,
		}),
		Poller: poller.Config{
			Store:             store,
			Interval:          cfg.Poller.Interval,
			PageSize:          cfg.Poller.PageSize,
			MaxPendingResults: cfg.Poller.MaxPendingResults,
			MaxWaitToStart:    cfg.Poller.MaxWaitToStart,
		},
		IdleTimeout:     cfg.Handles.IdleTimeout,
		JanitorInterval: cfg.Handles.JanitorInterval,
		QuerySources:    cfg.QuerySources,
		Metrics:         m,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	svc.Start(ctx)

	events := server.NewEvents(logger.Named("events"))

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		server.UserIDUnaryInterceptor(server.UserIDConfig{
			RequireUserID: cfg.Server.RequireUserID,
			Logger:        logger,
		}),
		server.LoggingUnaryInterceptor(logger.Named("grpc")),
	))
	server.NewGatewayServer(svc, events, logger).Register(grpcServer)
	if cfg.Server.EnableReflection {
		reflection.Register(grpcServer)
		logger.Info("gRPC reflection enabled")
	}

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	var httpSrv *server.HTTPServer
	var httpLis net.Listener
	if cfg.Server.HTTPPort > 0 {
		httpAddr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.HTTPPort))
		httpLis, err = net.Listen("tcp", httpAddr)
		if err != nil {
			_ = lis.Close()
			return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
		}
		httpSrv = server.NewHTTPServer(httpAddr, m, events, corsConfig(cfg.Server.CORS), logger.Named("http"))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	if httpSrv != nil {
		g.Go(func() error {
			return httpSrv.Serve(httpLis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if httpSrv != nil {
			if err := httpSrv.Stop(shutdownCtx); err != nil {
				logger.Warn("Error stopping HTTP server", zap.Error(err))
			} else {
				logger.Info("HTTP server stopped")
			}
		}

		logger.Info("Stopping gRPC server (waiting for active RPCs to complete)...")
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
			logger.Info("gRPC server stopped gracefully")
		case <-shutdownCtx.Done():
			logger.Warn("gRPC server graceful stop timeout, forcing shutdown")
			grpcServer.Stop()
		}

		if err := svc.Close(shutdownCtx); err != nil {
			logger.Warn("Error closing gateway", zap.Error(err))
		}
		return nil
	})

	logger.Info("Ready to serve standing queries")
	return g.Wait()
}

// startSources loads the sources file when it exists and, if configured, watches it.
func startSources(ctx context.Context, cfg FederationConfig, registrar sources.Registrar, logger *zap.Logger) (*sources.Loader, *sources.Watcher, error) {
	if _, err := os.Stat(cfg.SourcesFile); err != nil {
		if os.IsNotExist(err) {
			logger.Info("No sources file found, serving the local catalog only", zap.String("path", cfg.SourcesFile))
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to stat sources file: %w", err)
	}

	loader, err := sources.NewLoader(sources.LoaderConfig{
		Path:      cfg.SourcesFile,
		Registrar: registrar,
		Secrets:   sources.KeyringSecrets{},
		Logger:    logger.Named("sources"),
	})
	if err != nil {
		return nil, nil, err
	}
	if _, err := loader.Sync(ctx); err != nil {
		loader.Close()
		return nil, nil, fmt.Errorf("failed to load sources: %w", err)
	}

	if !cfg.HotReload {
		return loader, nil, nil
	}
	watcher, err := sources.NewWatcher(loader, sources.WatcherConfig{
		OnSync: func(changed bool, err error) {
			if err != nil {
				logger.Warn("Sources reload failed", zap.Error(err))
			} else if changed {
				logger.Info("Sources reloaded", zap.String("path", cfg.SourcesFile))
			}
		},
	})
	if err != nil {
		loader.Close()
		return nil, nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		loader.Close()
		return nil, nil, err
	}
	return loader, watcher, nil
}

func corsConfig(c CORSServerConfig) server.CORSConfig {
	return server.CORSConfig{
		Enabled:          c.Enabled,
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
}
