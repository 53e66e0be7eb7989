package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gamerequest/gamerequest-server/internal/di/providers"
	"github.com/gamerequest/gamerequest-server/internal/notify"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Telegram notification tools",
	}
	cmd.AddCommand(newNotifyTestCommand(ctx))
	return cmd
}

func newNotifyTestCommand(ctx *commandContext) *cobra.Command {
	var creds notify.Credentials

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send a test message and mark the credentials verified",
		Long: "Sends a test message to the admin chat. Without flags the stored credentials are used.\n" +
			"A successful test is what allows notifications to be enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.BotToken == "" || creds.ChatID == "" {
				svc, err := invoke[*settings.Service](ctx)
				if err != nil {
					return err
				}
				stored := svc.Current().Telegram
				if creds.BotToken == "" {
					creds.BotToken = stored.BotToken
				}
				if creds.ChatID == "" {
					creds.ChatID = stored.ChatID
				}
			}

			dispatcher, err := invoke[*providers.DispatcherHandle](ctx)
			if err != nil {
				return err
			}
			res := dispatcher.Test(cmd.Context(), creds)
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			if !res.Success {
				return errors.New("test notification failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&creds.BotToken, "bot-token", "", "Telegram bot token (default: stored token)")
	cmd.Flags().StringVar(&creds.ChatID, "chat-id", "", "Telegram chat id (default: stored chat id)")
	return cmd
}
