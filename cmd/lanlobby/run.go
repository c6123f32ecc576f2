package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lanlobby/internal/config"
	"github.com/cory-johannsen/lanlobby/internal/console"
	"github.com/cory-johannsen/lanlobby/internal/lobby"
	"github.com/cory-johannsen/lanlobby/internal/observability"
	"github.com/cory-johannsen/lanlobby/internal/server"
	"github.com/cory-johannsen/lanlobby/internal/transport"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		playerName string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join the LAN lobby and open the console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("name") {
				cfg.Lobby.PlayerName = playerName
			}
			if cmd.Flags().Changed("port") {
				cfg.Network.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if cfg.Lobby.PlayerName == "" {
				if host, err := os.Hostname(); err == nil {
					cfg.Lobby.PlayerName = host
				}
			}
			return runLobby(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file; empty uses defaults")
	cmd.Flags().StringVar(&playerName, "name", "", "display name announced to peers")
	cmd.Flags().IntVar(&port, "port", 0, "UDP lobby port")
	return cmd
}

func runLobby(ctx context.Context, cfg config.Config) error {
	start := time.Now()

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	conn, err := transport.ListenUDP(ctx, cfg.Network)
	if err != nil {
		logger.Error("binding lobby port", zap.Int("port", cfg.Network.Port), zap.Error(err))
		return err
	}
	logger = observability.PeerLogger(logger, cfg.Lobby.PlayerName, conn.LocalAddr())
	logger.Info("lobby port bound",
		zap.Int("port", conn.Port()),
		zap.String("broadcast", conn.Broadcast()),
	)

	tr := transport.New(conn, logger)
	coord := lobby.New(cfg.Lobby, tr, logger)
	con := console.New(coord, os.Stdin, os.Stdout, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("coordinator", &server.FuncService{
		StartFn: coord.Run,
		StopFn:  coord.Stop,
	})
	lifecycle.Add("console", &server.FuncService{
		StartFn: con.Run,
	})

	logger.Info("lobby ready", zap.Duration("startup", time.Since(start)))
	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("lobby stopped with error", zap.Error(err))
		return err
	}
	logger.Info("lobby stopped")
	return nil
}
