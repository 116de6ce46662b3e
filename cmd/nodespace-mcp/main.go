// Command nodespace-mcp runs the NodeSpace engine behind an MCP JSON-RPC 2.0
// server, serving both HTTP (one POST endpoint) and stdio transports
// concurrently (spec §4.7). This replaces the teacher's cmd/wasm entrypoint,
// which exported the same underlying engine across a JS/WASM bridge instead
// of a network+stdio boundary.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nodespace/core/internal/config"
	"github.com/nodespace/core/internal/embedding"
	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/logging"
	"github.com/nodespace/core/internal/mcpserver"
	"github.com/nodespace/core/internal/nodesvc"
	"github.com/nodespace/core/internal/relcache"
	"github.com/nodespace/core/internal/schema"
	"github.com/nodespace/core/internal/store"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		logging.Component("main").Fatal().Err(err).Msg("nodespace-mcp exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logging.SetLevel(level)
	log := logging.Component("main")

	if err := os.MkdirAll(cfg.DatabaseDir, 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}

	bus := eventbus.New()

	st, err := store.Open(filepath.Join(cfg.DatabaseDir, "nodespace.db"), bus)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := schema.New(st)
	if err := schema.Bootstrap(ctx, st, cfg.SchemaSeedPath); err != nil {
		return fmt.Errorf("bootstrap schemas: %w", err)
	}
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load schema registry: %w", err)
	}

	embedder := embedding.NewStubEmbedder(768)
	embSvc := embedding.New(st, embedder)
	waker := embedding.NewWaker()
	processor := embedding.NewProcessor(embSvc, st, waker)
	go processor.Run(ctx)
	defer processor.Shutdown()

	nodes, err := nodesvc.New(st, registry, embSvc, waker, nodesvc.Config{})
	if err != nil {
		return fmt.Errorf("build node service: %w", err)
	}

	relCache := relcache.New(registry)
	relCache.Refresh(ctx)

	srv := mcpserver.NewServer(nodes, registry, relCache)

	errCh := make(chan error, 2)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MCPPort),
		Handler: mcpserver.NewHTTPHandler(srv),
	}
	go func() {
		log.Info().Int("port", cfg.MCPPort).Msg("MCP HTTP transport listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http transport: %w", err)
		}
	}()

	go func() {
		log.Info().Msg("MCP stdio transport attached")
		if err := mcpserver.ServeStdio(ctx, srv, os.Stdin, os.Stdout, "stdio"); err != nil {
			errCh <- fmt.Errorf("stdio transport: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("transport failure")
	}

	_ = httpSrv.Close()
	return nil
}
