// Package cli holds the webchat cobra commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wsxxll/webchat/internal/ui"
	"github.com/wsxxll/webchat/internal/version"
)

var (
	flagServer     string
	flagSecure     bool
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagName       string
	flagDownloads  string
	flagRelayOnly  bool
	flagAutoAccept bool
)

var rootCmd = &cobra.Command{
	Use:   "webchat",
	Short: "Terminal chat rooms with direct peer links and file sharing",
	Long: `webchat joins a chat room on a webchat broker. Text and files go straight
to the other participants over WebRTC data channels when a direct link is up,
and through the broker relay when it is not.`,
	Version: version.Version,
}

// Execute runs the root command. It is called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagServer, "server", "s", "", "Broker host[:port]")
	pf.BoolVar(&flagSecure, "secure", false, "Use wss/https")
	pf.StringVar(&flagSTUN, "stun", "", "Custom STUN server")
	pf.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	pf.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	pf.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	pf.StringVarP(&flagName, "name", "n", "", "Display name")
	pf.StringVarP(&flagDownloads, "downloads", "d", "", "Directory for received files")
	pf.BoolVarP(&flagRelayOnly, "relay-only", "r", false, "Never open direct links")
	pf.BoolVarP(&flagAutoAccept, "auto-accept", "y", false, "Accept every offered file")
}
