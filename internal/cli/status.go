package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/KafClaw/communa/internal/access"
	"github.com/KafClaw/communa/internal/config"
	"github.com/KafClaw/communa/internal/lobby"
	"github.com/KafClaw/communa/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "🏷️ Communa Version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and persisted relay state",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 Communa Status")
		fmt.Fprintf(out, "Version: %s\n", version)

		path, _ := config.ConfigPath()
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Config:  %s Found (%s)\n", ok(), path)
		} else {
			fmt.Fprintf(out, "Config:  %s Not found (%s), using environment\n", missing(), path)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		check := func(label string, set bool, value string) {
			if set {
				fmt.Fprintf(out, "%-9s%s %s\n", label, ok(), value)
			} else {
				fmt.Fprintf(out, "%-9s%s not set\n", label, missing())
			}
		}
		check("Token:", cfg.Telegram.Token != "", "set")
		check("Admin:", cfg.Telegram.Admin != "", cfg.Telegram.Admin)
		fmt.Fprintf(out, "Storage: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.DataPath)
		if cfg.Events.Enabled {
			fmt.Fprintf(out, "Events:  %s %s → %s\n", ok(), cfg.Events.KafkaBrokers, cfg.Events.Topic)
		} else {
			fmt.Fprintf(out, "Events:  %s disabled\n", missing())
		}

		docs, err := store.Open(cfg.Storage.Driver, cfg.Storage.DataPath)
		if err != nil {
			return err
		}
		defer docs.Close()
		if err := printState(cmd.Context(), out, docs); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(out, "Status:  %s Not ready\n%v\n", missing(), err)
			return nil
		}
		fmt.Fprintln(out, "Status:  Ready")
		return nil
	},
}

func printState(ctx context.Context, out io.Writer, docs store.Store) error {
	st, err := lobby.NewRegistry(docs, nil).State(ctx)
	if err != nil {
		return err
	}
	counts, err := access.NewStore(docs, nil).Counts(ctx)
	if err != nil {
		return err
	}
	if st.ChatID != 0 {
		fmt.Fprintf(out, "Lobby:   %d\n", st.ChatID)
	} else {
		fmt.Fprintln(out, "Lobby:   not registered (send /start in a group)")
	}
	if p := st.Pending(); p != 0 {
		fmt.Fprintf(out, "Pending: %d awaits confirmation\n", p)
	}
	fmt.Fprintf(out, "Lists:   %d waiting, %d approved, %d blocked\n", counts.Wait, counts.White, counts.Black)
	return nil
}

func ok() string      { return color.GreenString("✓") }
func missing() string { return color.RedString("✗") }
