package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KafClaw/communa/internal/channels"
	"github.com/KafClaw/communa/internal/config"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var (
	inviteOut  string
	inviteSize int
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Write a QR code that opens a private chat with the bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Telegram.Token == "" {
			return errors.New("telegram.token is required (TELEGRAM_BOT_TOKEN)")
		}
		tg, err := channels.NewTelegramChannel(cfg.Telegram, nil)
		if err != nil {
			return err
		}
		self, err := tg.Self(cmd.Context())
		if err != nil {
			return fmt.Errorf("get bot account: %w", err)
		}
		if self.Username == "" {
			return errors.New("bot account has no username")
		}

		link := botLink(self.Username)
		if dir := filepath.Dir(inviteOut); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		if err := qrcode.WriteFile(link, qrcode.Medium, inviteSize, inviteOut); err != nil {
			return fmt.Errorf("write qr code: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Link:    %s\nQR code: %s\n", link, inviteOut)
		return nil
	},
}

func init() {
	inviteCmd.Flags().StringVarP(&inviteOut, "out", "o", "communa-invite.png", "PNG file to write")
	inviteCmd.Flags().IntVar(&inviteSize, "size", 512, "Image size in pixels")
}

func botLink(username string) string {
	return "https://t.me/" + username
}
