package cli

import (
	"github.com/spf13/cobra"

	"github.com/wsxxll/webchat/internal/chat"
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a named room",
	Long: `Join a named chat room. Inside the room, /join and /leave switch rooms.

Examples:
  webchat join team-standup
  webchat join --name alice --downloads ~/Downloads lobby
  webchat join --relay-only lobby`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(chat.ManualPolicy{Name: args[0]})
	},
}

var lanCmd = &cobra.Command{
	Use:   "lan",
	Short: "Join the room shared by everyone on this network",
	Long: `Join the room derived from the local network segment, so machines on the
same LAN find each other without agreeing on a name. Room switching is off.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(chat.AutoPolicy{})
	},
}

func init() {
	rootCmd.AddCommand(joinCmd, lanCmd)
}
