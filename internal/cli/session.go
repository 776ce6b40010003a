package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wsxxll/webchat/internal/chat"
	"github.com/wsxxll/webchat/internal/config"
	"github.com/wsxxll/webchat/internal/dns"
	"github.com/wsxxll/webchat/internal/peerlink"
	"github.com/wsxxll/webchat/internal/signaling"
	"github.com/wsxxll/webchat/internal/transfer"
	"github.com/wsxxll/webchat/internal/ui"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Server:      flagServer,
		Secure:      flagSecure,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		Name:        flagName,
		DownloadDir: flagDownloads,
		RelayOnly:   flagRelayOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.TURNServer != "" && (cfg.TURNUser == "" || cfg.TURNPass == "") {
		return nil, fmt.Errorf("TURN server %s needs --turn-user and --turn-pass", cfg.TURNServer)
	}
	return cfg, nil
}

func newClient(cfg *config.Config, policy chat.Policy) *chat.Client {
	logger := slog.Default()

	sigOpts := signaling.DefaultOptions()
	sigOpts.Resolver = dns.NewResolver()
	sigOpts.Logger = logger

	opts := chat.Options{
		Name:        cfg.Name,
		Policy:      policy,
		Dial:        chat.SignalingDialer(cfg, sigOpts),
		DownloadDir: cfg.DownloadDir,
		AutoAccept:  flagAutoAccept,
		Pacing:      transfer.DefaultPacing(),
		Logger:      logger,
	}
	if !cfg.RelayOnly {
		opts.Links = peerlink.NewPionFactory(cfg)
	}
	return chat.New(opts)
}

// runChat joins the policy's room and hands the terminal to the chat screen.
func runChat(policy chat.Policy) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newClient(cfg, policy)
	return ui.RunChat(ctx, client)
}
