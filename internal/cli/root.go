package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/communa/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"   ___ ___  _ __ ___  _ __ ___  _   _ _ __   __ _\n" +
		"  / __/ _ \\| '_ ` _ \\| '_ ` _ \\| | | | '_ \\ / _` |\n" +
		" | (_| (_) | | | | | | | | | | | |_| | | | | (_| |\n" +
		"  \\___\\___/|_| |_| |_|_| |_| |_|\\__,_|_| |_|\\__,_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "communa",
	Short: "Communa - Telegram relay between users and a lobby chat",
	Long:  color.CyanString(logo) + "\nRelays private messages to a lobby group and routes the group's replies back.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listsCmd)
	rootCmd.AddCommand(inviteCmd)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}
