package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/health"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/history"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/session"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tracing"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket research server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			explicit, _ := cmd.Flags().GetString("config")
			path := config.ResolvePath(explicit)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), path, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func serve(parent context.Context, path string, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, version, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without it", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	circuitbreaker.RefreshGauges(ctx, 10*time.Second)

	engine, err := policy.NewOPAEngine(cfg.Policy, logger)
	if err != nil {
		return fmt.Errorf("init policy engine: %w", err)
	}
	registry, err := tools.NewDefaultRegistry(cfg.Tools, engine, logger)
	if err != nil {
		return fmt.Errorf("init tools: %w", err)
	}
	provider, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	researcher, err := agent.New(cfg.Pipeline, logger)
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}

	hm := health.NewManager(logger)
	_ = hm.RegisterChecker(health.NewBreakerChecker())

	var store history.Store = history.NopStore{}
	if cfg.History.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.History.Addr,
			Password: cfg.History.Password,
			DB:       cfg.History.DB,
		})
		rs := history.NewRedisStore(client, cfg.History, logger)
		defer func() { _ = rs.Close() }()
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("History store unreachable at startup", zap.String("addr", cfg.History.Addr), zap.Error(err))
		}
		_ = hm.RegisterChecker(health.NewRedisChecker(rs, false))
		store = rs
	}

	var jwt *auth.JWTManager
	if cfg.Auth.Enabled {
		if jwt, err = auth.NewJWTManager(cfg.Auth); err != nil {
			return err
		}
	}

	orch := session.NewOrchestrator(cfg.Session, researcher, provider, registry, store, logger)

	if path != "" {
		watcher, err := config.NewWatcher(path, cfg, logger)
		if err != nil {
			return err
		}
		watcher.OnChange(func(_, next *config.Config) error {
			return researcher.UpdateSettings(next.Pipeline)
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("Config hot-reload disabled", zap.String("path", path), zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	srv := httpapi.NewServer(cfg.Server, httpapi.Deps{
		Orchestrator: orch,
		Health:       hm,
		History:      store,
		Auth:         jwt,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("researchd listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("version", version),
			zap.Bool("auth", jwt != nil),
			zap.Bool("history", cfg.History.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down researchd")
	}

	hm.Drain()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := orch.Wait(shutdownCtx); err != nil {
		logger.Warn("Tasks still running at shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	return nil
}

// newTokenCmd mints a development token with the configured signing key.
func newTokenCmd() *cobra.Command {
	var (
		user string
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the WebSocket handshake",
		RunE: func(cmd *cobra.Command, _ []string) error {
			explicit, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(config.ResolvePath(explicit))
			if err != nil {
				return err
			}
			if ttl > 0 {
				cfg.Auth.TokenTTL = ttl
			}
			jwt, err := auth.NewJWTManager(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := jwt.Generate(user, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject of the token")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, overrides auth.token_ttl")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
