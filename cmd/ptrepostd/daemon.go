package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "run the supervisor loop forever",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			a.log.Info().Msg("daemon starting")
			err = a.supervisor.Run(ctx)
			if err == context.Canceled {
				a.log.Info().Msg("daemon stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&configPath, "config-file", "", "path to the TOML/YAML/JSON configuration file")
	_ = cmd.MarkFlagRequired("config-file")

	return cmd
}
