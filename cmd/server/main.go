package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpmesh/internal/directory"
	"github.com/BioHazard786/warpmesh/internal/logging"
	"github.com/BioHazard786/warpmesh/internal/server"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/BioHazard786/warpmesh/internal/version"
)

var addr string

var rootCmd = &cobra.Command{
	Use:     "warpmesh-server",
	Short:   "Room directory and signaling server for warpmesh",
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), addr)
	},
}

func init() {
	defaultAddr := os.Getenv("WARPMESH_ADDR")
	if defaultAddr == "" {
		defaultAddr = ":8080"
	}
	rootCmd.Flags().StringVarP(&addr, "addr", "a", defaultAddr, "Listen address (env: WARPMESH_ADDR)")
}

func main() {
	closeLog := logging.Init(slog.LevelInfo)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string) error {
	logger := slog.Default()

	hub := signaling.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewHandler(directory.NewStore(), hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting warpmesh server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
