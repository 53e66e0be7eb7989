package main

import (
	"github.com/spf13/cobra"
)

// newRootCommand builds the command tree. The caller closes the returned
// context once the command has run.
func newRootCommand() (*cobra.Command, *commandContext) {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "gamereq",
		Short:         "GameRequest administration CLI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.envFile, "env-file", ".env", "Path to .env file")
	flags.StringVar(&ctx.dataPath, "data-path", "", "Base path for databases, caches and keys")
	flags.StringVar(&ctx.storeDriver, "store", "", "Request store driver (sqlite, postgres)")
	flags.StringVar(&ctx.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newUserCommand(ctx))
	rootCmd.AddCommand(newNotifyCommand(ctx))
	rootCmd.AddCommand(newSettingsCommand(ctx))
	rootCmd.AddCommand(newRequestsCommand(ctx))

	return rootCmd, ctx
}
