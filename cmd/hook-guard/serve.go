package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/triage-ai/palisade/services/hook_guard/internal/audit"
	"github.com/triage-ai/palisade/services/hook_guard/internal/auth"
	"github.com/triage-ai/palisade/services/hook_guard/internal/config"
	"github.com/triage-ai/palisade/services/hook_guard/internal/hook"
	"github.com/triage-ai/palisade/services/hook_guard/internal/rules"
	"github.com/triage-ai/palisade/services/hook_guard/internal/server"
	"github.com/triage-ai/palisade/services/hook_guard/internal/vcs"
)

const (
	breakerCooldown = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher as a gRPC and HTTP daemon",
		Long: `Serve the same checks as "hook-guard check" over gRPC
(hookguard.v1.HookGuardService/Dispatch) and HTTP (POST /v1/dispatch).
GET /healthz and GET /metrics are served on the HTTP address.

Set serve.token_hash to a bcrypt hash to require a bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	level := cfg.Log.Level
	if level == "warn" {
		level = "info"
	}
	logger := mustBuildLogger(level, []string{"stdout"})
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules.Resolve(ctx, cfg, rules.ServeBudget, logger)

	inspector := vcs.NewBreakerInspector(vcs.NewGitInspector(cfg.QueryTimeout, nil), breakerCooldown)
	eng, err := buildEngine(cfg, inspector, logger)
	if err != nil {
		return err
	}

	writer := audit.NewMultiWriter(auditWriters(ctx, cfg, true, logger)...)
	defer writer.Close()

	authenticator, err := buildAuthenticator(cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(reg)

	adapter := hook.NewAdapter(eng, writer, adapterConfig(cfg, "grpc"), logger)

	logger.Info("starting hook guard server",
		zap.String("grpc_addr", cfg.Serve.GRPCAddr),
		zap.String("http_addr", cfg.Serve.HTTPAddr),
		zap.String("workspace_root", cfg.WorkspaceRoot),
		zap.Strings("protected_branches", cfg.ProtectedBranches),
		zap.Duration("check_timeout", cfg.CheckTimeout),
	)

	errCh := make(chan error, 2)

	grpcServer, healthServer := server.NewGRPCServer(server.NewHookGuardServer(adapter, authenticator, metrics, logger))
	if cfg.Serve.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Serve.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		go func() { errCh <- grpcServer.Serve(lis) }()
	}

	var httpServer *http.Server
	if cfg.Serve.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.Serve.HTTPAddr,
			Handler:           server.NewHTTPServer(adapter.WithSource("http"), authenticator, metrics, reg, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info("http listening", zap.String("addr", cfg.Serve.HTTPAddr))
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed, shutting down", zap.Error(serveErr))
	}

	healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}
	grpcServer.GracefulStop()
	return serveErr
}

func buildAuthenticator(cfg *config.Config, logger *zap.Logger) (auth.Authenticator, error) {
	if cfg.Serve.TokenHash == "" {
		logger.Info("no serve.token_hash set, accepting unauthenticated requests")
		return auth.NewStaticAuthenticator(cfg.ProjectID), nil
	}
	return auth.NewTokenAuthenticator(cfg.Serve.TokenHash, cfg.ProjectID, 0, logger)
}
