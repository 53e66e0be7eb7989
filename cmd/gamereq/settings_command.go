package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gamerequest/gamerequest-server/internal/settings"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and seed runtime settings",
	}
	cmd.AddCommand(newSettingsShowCommand(ctx))
	cmd.AddCommand(newSettingsApplyCommand(ctx))
	return cmd
}

func newSettingsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings as a seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := invoke[*settings.Service](ctx)
			if err != nil {
				return err
			}
			snap := svc.Current()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap.Redacted())
			}

			data, err := settings.EncodeSeed(snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "# settings version %d, channel verified: %s\n", snap.Version, yesNo(snap.ChannelVerified()))
			_, err = out.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON with credentials masked")
	return cmd
}

func newSettingsApplyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a TOML seed file to the stored settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := invoke[*settings.Service](ctx)
			if err != nil {
				return err
			}
			snap, err := svc.ApplySeed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Settings updated to version %d\n", snap.Version)
			return nil
		},
	}
}
