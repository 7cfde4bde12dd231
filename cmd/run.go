package cmd

import (
	"errors"
	"fmt"

	"github.com/alt1f923/flightless/flightless"
	"github.com/spf13/cobra"
)

var errMissingToken = errors.New(
	"missing discord token: pass it as an argument or set FL_DISCORD_TOKEN",
)

var (
	runCmd = &cobra.Command{
		Use:   "run [token]",
		Short: "Connects to Discord and starts handling commands",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.Discord.Token = args[0]
			}
			if cfg.Discord.Token == "" {
				return errMissingToken
			}
			cmd.SilenceUsage = true

			ctx := cmd.Context()
			bot, err := flightless.New(cfg)
			if err != nil {
				return fmt.Errorf("error creating bot: %w", err)
			}

			if err = bot.Run(ctx); err != nil {
				return fmt.Errorf("error running bot: %w", err)
			}
			return nil
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
