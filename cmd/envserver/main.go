package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cartridge/rollout/internal/admin"
	"github.com/cartridge/rollout/internal/env"
	_ "github.com/cartridge/rollout/internal/env/cartpole"
	_ "github.com/cartridge/rollout/internal/env/traffic"
	"github.com/cartridge/rollout/internal/logging"
	"github.com/cartridge/rollout/internal/metrics"
	"github.com/cartridge/rollout/internal/remote"
)

type options struct {
	Addr            string        `mapstructure:"addr"`
	HTTPAddr        string        `mapstructure:"http-addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	LogLevel        string        `mapstructure:"log-level"`
	LogPretty       bool          `mapstructure:"log-pretty"`
}

var rootCmd = &cobra.Command{
	Use:   "envserver",
	Short: "Serve rollout environments over gRPC",
	Long: `Hosts the registered environments behind the rollout.env.v1.Environment
gRPC service so that rollouts can step them remotely with --engine-addr.`,
	RunE:         runServer,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().String("addr", ":50051", "gRPC listen address")
	rootCmd.Flags().String("http-addr", "", "HTTP status listen address; empty disables it")
	rootCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Time allowed for in-flight requests on shutdown")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-pretty", false, "Human readable log output")
}

func runServer(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("ENVSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var opts options
	if err := v.Unmarshal(&opts); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: opts.LogLevel, Pretty: opts.LogPretty})
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.Addr, err)
	}

	var httpLis net.Listener
	if opts.HTTPAddr != "" {
		httpLis, err = net.Listen("tcp", opts.HTTPAddr)
		if err != nil {
			lis.Close()
			return fmt.Errorf("failed to listen on %s: %w", opts.HTTPAddr, err)
		}
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return serve(ctx, lis, httpLis, opts.ShutdownTimeout, logger)
}

// serve runs the gRPC server on lis, and the HTTP status server on httpLis
// when it is not nil, until ctx is done, then drains both.
func serve(ctx context.Context, lis, httpLis net.Listener, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	envServer := remote.NewServer(logger)
	defer func() {
		if err := envServer.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing sessions")
		}
	}()

	server := grpc.NewServer(
		grpc.UnaryInterceptor(remote.LoggingInterceptor(logger, metrics.NewCollector(logger))),
	)
	remote.RegisterEnvironmentServer(server, envServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(remote.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	serveErr := make(chan error, 2)

	var httpServer *http.Server
	if httpLis != nil {
		httpServer = &http.Server{
			Handler:           admin.NewServer(envServer, logger).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", httpLis.Addr().String()).Msg("status HTTP server starting")
			if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	go func() {
		logger.Info().
			Str("addr", lis.Addr().String()).
			Strs("environments", env.Names()).
			Msg("environment server listening")
		serveErr <- server.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		server.Stop()
		if httpServer != nil {
			httpServer.Close()
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down gracefully")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful HTTP shutdown failed")
		}
	}

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn().Msg("shutdown timeout exceeded, forcing stop")
		server.Stop()
	case <-stopped:
		logger.Info().Msg("server stopped gracefully")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
