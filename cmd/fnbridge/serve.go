package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/fnbridge/internal/agent"
	"github.com/oriys/fnbridge/internal/executor"
	bridgegrpc "github.com/oriys/fnbridge/internal/grpc"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/logs"
	"github.com/oriys/fnbridge/internal/metrics"
	"github.com/oriys/fnbridge/internal/observability"
	"github.com/oriys/fnbridge/internal/runner"
)

func serveCmd() *cobra.Command {
	var (
		listenAddr  string
		grpcAddr    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		Long:  "Serve invocation adapters over the socket agent protocol and gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.Listen = listenAddr
			}
			if cmd.Flags().Changed("grpc") {
				cfg.Daemon.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("metrics") {
				cfg.Daemon.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: "fnbridge",
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			metrics.InitPrometheus("fnbridge", nil)

			invocations := logging.Default()
			invocations.SetConsole(nil)
			if cfg.Daemon.InvocationLog != "" {
				if err := invocations.SetOutput(cfg.Daemon.InvocationLog); err != nil {
					return fmt.Errorf("open invocation log: %w", err)
				}
			}
			defer invocations.Close()

			if cfg.Redis.Enabled {
				store, err := logs.Dial(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
				if err != nil {
					logging.Op().Warn("invocation log store unavailable", "addr", cfg.Redis.Addr, "error", err)
				} else {
					defer store.Close()
					invocations.AddSink(store)
					logging.Op().Info("invocation records stream to redis", "addr", cfg.Redis.Addr)
				}
			}

			r := runner.New(executor.WithLogger(invocations))
			defer r.CloseAll()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 2)

			if cfg.Daemon.Listen != "" {
				ln, err := agent.Listen(cfg.Daemon.Listen)
				if err != nil {
					return err
				}
				srv := agent.NewServer(r)
				go func() {
					if err := srv.Serve(ctx, ln); err != nil {
						errCh <- fmt.Errorf("agent: %w", err)
					}
				}()
			}

			if cfg.Daemon.GRPCAddr != "" {
				grpcServer := bridgegrpc.NewServer(r)
				if err := grpcServer.Start(cfg.Daemon.GRPCAddr); err != nil {
					return fmt.Errorf("start gRPC server: %w", err)
				}
				defer grpcServer.Stop()
			}

			var httpServer *http.Server
			if cfg.Daemon.MetricsAddr != "" {
				httpServer = &http.Server{
					Addr:    cfg.Daemon.MetricsAddr,
					Handler: observability.HTTPMiddleware(statusMux(r)),
				}
				go func() {
					logging.Op().Info("metrics server started", "addr", cfg.Daemon.MetricsAddr)
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						errCh <- fmt.Errorf("metrics server: %w", err)
					}
				}()
			}

			logging.Op().Info("fnbridge started",
				"listen", cfg.Daemon.Listen,
				"grpc", cfg.Daemon.GRPCAddr,
				"metrics", cfg.Daemon.MetricsAddr,
				"plugins", cfg.Loader.EnablePlugins,
			)

			var runErr error
			select {
			case <-ctx.Done():
				logging.Op().Info("shutdown signal received")
			case runErr = <-errCh:
			}

			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				httpServer.Shutdown(shutdownCtx)
				cancel()
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Socket agent address (unix:///path.sock, tcp://host:port, vsock://port)")
	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC address (e.g., :9090)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Metrics HTTP address (e.g., :9091)")

	return cmd
}

// statusMux serves Prometheus metrics, JSON stats and the live handle list.
func statusMux(r *runner.Runner) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.PrometheusHandler())
	mux.Handle("GET /stats", metrics.Global().JSONHandler())
	mux.HandleFunc("GET /handles", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.Handles())
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}
