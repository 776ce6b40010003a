package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wsxxll/webchat/internal/broker"
	"github.com/wsxxll/webchat/internal/config"
	"github.com/wsxxll/webchat/internal/logging"
	"github.com/wsxxll/webchat/internal/server"
	"github.com/wsxxll/webchat/internal/version"
)

var (
	configPath string
	addrFlag   string
)

var rootCmd = &cobra.Command{
	Use:     "webchat-server",
	Short:   "Room broker for webchat clients",
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(configPath)
		if err != nil {
			return err
		}
		if addrFlag != "" {
			cfg.Addr = addrFlag
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "webchat.toml", "Path to the TOML config file")
	rootCmd.Flags().StringVarP(&addrFlag, "addr", "a", "", "Listen address (overrides config)")
	rootCmd.SilenceUsage = true
}

func run(cfg *config.Server) error {
	logger := slog.Default()

	reg := broker.NewRegistry(nil, broker.Options{
		ReadLimit: cfg.ReadLimit,
		SendQueue: cfg.SendQueue,
		PongWait:  cfg.PongWait,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.NewRouter(reg, server.Config{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("broker listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	reg.Close()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func main() {
	logging.InitWithDefault(slog.LevelInfo)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
