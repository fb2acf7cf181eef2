package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ptrepost/ptrepost/internal/dashboard"
)

func newServerCmd() *cobra.Command {
	var configPath, host string
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "run the read-only HTTP dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := dashboard.NewServer(a.store, a.log)

			addr := fmt.Sprintf("%s:%d", host, port)
			httpServer := &http.Server{Addr: addr, Handler: srv}

			go func() {
				<-ctx.Done()
				_ = httpServer.Close()
			}()

			a.log.Info().Str("addr", addr).Msg("dashboard listening")
			err = httpServer.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&configPath, "config-file", "", "path to the TOML/YAML/JSON configuration file")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "dashboard bind host")
	cmd.Flags().IntVar(&port, "port", 8090, "dashboard bind port")
	_ = cmd.MarkFlagRequired("config-file")

	return cmd
}
