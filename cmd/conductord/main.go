// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command conductord boots the workflow engine's daemon: an event-sourced
// workflow executor reachable over HTTP, with cross-service dispatch,
// budget enforcement, and an optional MCP transport for tool providers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaywork/relay/internal/broadcast"
	"github.com/relaywork/relay/internal/budget"
	"github.com/relaywork/relay/internal/dispatcher"
	"github.com/relaywork/relay/internal/eventstore"
	"github.com/relaywork/relay/internal/log"
	"github.com/relaywork/relay/internal/mcptransport"
	"github.com/relaywork/relay/internal/registry"
	"github.com/relaywork/relay/pkg/httpclient"
	"github.com/relaywork/relay/pkg/workflow"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// envOrDefault mirrors the teacher's internal/config env-override
// pattern (CONDUCTOR_* variables read directly with os.Getenv, no config
// library) so flag defaults can be set from the environment without
// pulling in the teacher's full interactive-profile config system, which
// is CLI-wizard scoped and out of this daemon's boundary.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		backendType  = flag.String("backend", envOrDefault("CONDUCTOR_BACKEND", "memory"), "Event store backend (memory, sqlite, postgres)")
		sqlitePath   = flag.String("sqlite-path", envOrDefault("CONDUCTOR_SQLITE_PATH", "conductord.db"), "SQLite database path (backend=sqlite)")
		postgresURL  = flag.String("postgres-url", envOrDefault("CONDUCTOR_POSTGRES_URL", ""), "PostgreSQL connection URL (backend=postgres)")
		addr         = flag.String("addr", envOrDefault("CONDUCTOR_ADDR", "127.0.0.1:8080"), "HTTP listen address")
		allowRemote  = flag.Bool("allow-remote", false, "Allow binding to non-localhost addresses (SECURITY WARNING)")
		workflowsDir = flag.String("workflows-dir", envOrDefault("CONDUCTOR_WORKFLOWS_DIR", ""), "Directory for workflow definitions and sub-workflow resolution")
		mcpCommand   = flag.String("mcp-command", "", "Command to launch a stdio MCP server for tool providers")
		serviceRPS   = flag.Float64("service-rate-limit", 0, "Max requests per second to any single dispatched service (0 = unlimited)")
		serviceBurst = flag.Int("service-rate-burst", 5, "Burst size for -service-rate-limit")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductord %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	if !*allowRemote && !isLocalAddr(*addr) {
		logger.Error("refusing to bind to a non-localhost address without --allow-remote", "addr", *addr)
		os.Exit(1)
	}
	if *allowRemote {
		logger.Warn("--allow-remote is enabled. The daemon will accept connections from any network address. Ensure you have proper authentication and TLS configured for production use.")
	}

	store, err := newEventStore(*backendType, *sqlitePath, *postgresURL)
	if err != nil {
		logger.Error("failed to initialize event store", log.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcRegistry := registry.New(logger)
	svcRegistry.StartStaleSweep(ctx, registry.DefaultStaleConfig())

	disp, err := dispatcher.New(dispatcher.Config{
		Registry:          svcRegistry,
		HTTPClient:        httpclient.Config{Timeout: 30 * time.Second, RetryAttempts: 3, RetryBackoff: 100 * time.Millisecond, MaxBackoff: 30 * time.Second},
		Strategy:          registry.StrategyRoundRobin,
		DiscoveryCacheTTL: 5 * time.Second,
		RatePerSecond:     *serviceRPS,
		RateBurst:         *serviceBurst,
	})
	if err != nil {
		logger.Error("failed to initialize cross-service dispatcher", log.Error(err))
		os.Exit(1)
	}

	enforcer := budget.NewEnforcer(budget.DefaultLimitConfig())

	events := broadcast.New[*eventstore.Envelope](64, logger)

	var mcpTransport mcptransport.Transport
	if *mcpCommand != "" {
		mcpTransport = mcptransport.NewStdioTransport(*mcpCommand, nil)
		if err := mcpTransport.Connect(ctx); err != nil {
			logger.Warn("mcp transport failed to connect at startup, will retry on first use", log.Error(err))
		} else {
			defer mcpTransport.Disconnect(context.Background())
		}
	}

	executor := workflow.NewExecutor(nil, nil).
		WithLogger(logger).
		WithWorkflowDir(*workflowsDir).
		WithServiceRegistry(svcRegistry).
		WithDispatcher(disp)

	srv := newServer(serverDeps{
		logger:   logger,
		store:    store,
		enforcer: enforcer,
		events:   events,
		executor: executor,
		registry: svcRegistry,
		mcp:      mcpTransport,
		version:  version,
	})

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      srv.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("conductord listening", "addr", *addr, "backend", *backendType)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", log.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", log.Error(err))
			os.Exit(1)
		}
	}
}

// newEventStore builds the configured Store backend.
func newEventStore(backend, sqlitePath, postgresURL string) (eventstore.Store, error) {
	switch backend {
	case "", "memory":
		return eventstore.NewMemStore(true), nil
	case "sqlite":
		return eventstore.NewSQLiteStore(eventstore.SQLiteConfig{
			Path:            sqlitePath,
			WAL:             true,
			EnableChecksums: true,
		})
	case "postgres":
		if postgresURL == "" {
			return nil, fmt.Errorf("backend=postgres requires -postgres-url")
		}
		return eventstore.NewPGStore(eventstore.PGConfig{
			ConnectionString: postgresURL,
			MaxOpenConns:     10,
			MaxIdleConns:     2,
			ConnMaxLifetime:  30 * time.Minute,
			EnableChecksums:  true,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q (want memory, sqlite, or postgres)", backend)
	}
}

// isLocalAddr reports whether addr's host portion is a loopback address or
// unspecified (which still only resolves to local interfaces without a
// firewall rule forwarding to it from elsewhere).
func isLocalAddr(addr string) bool {
	host := addr
	if i := lastColon(addr); i >= 0 {
		host = addr[:i]
	}
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
