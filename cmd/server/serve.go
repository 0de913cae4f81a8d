package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RichardoC/talknow/internal/api"
	"github.com/RichardoC/talknow/internal/chat"
	"github.com/RichardoC/talknow/internal/config"
	"github.com/RichardoC/talknow/internal/content"
	"github.com/RichardoC/talknow/internal/db"
	"github.com/RichardoC/talknow/internal/llm"
	"github.com/RichardoC/talknow/internal/render"
	"github.com/RichardoC/talknow/web"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat page and its API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8100)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	database, err := db.New(cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer database.Close()

	handler, err := buildHandler(cfg, database, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveHTTP(ctx, srv, ln, cfg.Server.ShutdownTimeout, logger)
}

// buildHandler wires the chat service, model client and page into one
// handler.
func buildHandler(cfg *config.Config, store chat.Store, logger *zap.Logger) (http.Handler, error) {
	shaper, err := content.NewShaper(content.Mode(cfg.Shaper.Mode))
	if err != nil {
		return nil, err
	}
	model, err := llm.New(cfg.LLM, shaper, logger)
	if err != nil {
		return nil, err
	}

	h := api.NewHandler(chat.NewService(store, model, logger), render.NewHTML(), logger)
	return api.Chain(h.Routes(web.Handler()),
		api.WithRequestID,
		api.Recover(logger),
		api.AccessLog(logger),
		api.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
	), nil
}

// serveHTTP serves on ln until ctx is done, then drains in-flight requests
// for at most shutdownTimeout.
func serveHTTP(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
