package cli

import (
	"fmt"

	"github.com/KafClaw/communa/internal/access"
	"github.com/KafClaw/communa/internal/config"
	"github.com/KafClaw/communa/internal/identity"
	"github.com/KafClaw/communa/internal/store"
	"github.com/spf13/cobra"
)

var listsCmd = &cobra.Command{
	Use:       "lists [wait|white|black]",
	Short:     "Print the persisted access lists",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"wait", "white", "black"},
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses := []access.Status{access.Waiting, access.Approved, access.Blocked}
		if len(args) == 1 {
			st, ok := access.ParseStatus(args[0])
			if !ok || st == access.Unknown {
				return fmt.Errorf("unknown list %q (want wait, white or black)", args[0])
			}
			statuses = []access.Status{st}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		docs, err := store.Open(cfg.Storage.Driver, cfg.Storage.DataPath)
		if err != nil {
			return err
		}
		defer docs.Close()

		acl := access.NewStore(docs, nil)
		out := cmd.OutOrStdout()
		for _, st := range statuses {
			ids, err := acl.List(cmd.Context(), st)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s (%d)\n", listTitle(st), len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", identity.UserID(id))
			}
		}
		return nil
	},
}

func listTitle(st access.Status) string {
	switch st {
	case access.Waiting:
		return "Wait list"
	case access.Approved:
		return "White list"
	case access.Blocked:
		return "Black list"
	}
	return st.String()
}
