package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"fieldops/dispatch-service/internal/dispatch"
	"fieldops/dispatch-service/internal/grpcserver"
	"fieldops/dispatch-service/internal/scheduler"
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST and gRPC servers and the hold sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			// ── Hold sweeper ─────────────────────────────────────────────────
			sched := scheduler.New(a.allocator, cfg.Tuning.SweepInterval, log)
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
			defer sched.Stop()

			// ── HTTP server ──────────────────────────────────────────────────
			mux := http.NewServeMux()
			dispatch.NewHandler(a.svc, log).RegisterRoutes(mux)
			mux.HandleFunc("/version", versionHandler)

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}

			// ── gRPC server ──────────────────────────────────────────────────
			lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			gs := grpc.NewServer()
			grpcserver.Register(gs, grpcserver.NewServer(a.svc))

			g, gCtx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info(fmt.Sprintf("[dispatch-service] v%s listening on :%s", version, cfg.HTTPPort))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				log.Info(fmt.Sprintf("[dispatch-service] gRPC listening on :%s", cfg.GRPCPort))
				if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					return fmt.Errorf("grpc server: %w", err)
				}
				return nil
			})

			// ── Graceful shutdown ────────────────────────────────────────────
			g.Go(func() error {
				<-gCtx.Done()
				log.Info("[dispatch-service] Shutting down…")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				gs.GracefulStop()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("[dispatch-service] Shutdown error", "err", err)
				}
				return nil
			})

			err = g.Wait()
			log.Info("[dispatch-service] Stopped.")
			return err
		},
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"service": "dispatch-service",
		"version": version,
	})
}
