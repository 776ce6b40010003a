package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/wsxxll/webchat/internal/dns"
	"github.com/wsxxll/webchat/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:   "stats <room>",
	Short: "Show who is in a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		stopSpinner := ui.RunConnectionSpinner("Fetching room stats...")
		st, err := fetchStats(cmd.Context(), cfg.StatsURL(args[0]))
		stopSpinner()
		if err != nil {
			return err
		}

		fmt.Println()
		ui.RenderRoomStats(st)
		return nil
	},
}

func fetchStats(ctx context.Context, url string) (ui.RoomStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client := &http.Client{Transport: &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dns.NewResolver().DialContext,
	}}

	var st ui.RoomStats
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return st, fmt.Errorf("stats request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return st, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return st, fmt.Errorf("room not found or empty")
	default:
		return st, fmt.Errorf("fetch stats: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
