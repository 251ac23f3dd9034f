package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/toolmesh/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func newStartCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start every server and monitor health until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := rt.Close(ctx); err != nil {
					rt.Logger.WithError(err).Warn("Shutdown incomplete")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr == "" {
				metricsAddr = rt.Config.Metrics.Addr
			}
			if metricsAddr != "" {
				addr, err := rt.Metrics.Serve(metricsAddr)
				if err != nil {
					return err
				}
				rt.Logger.Info("Serving metrics", logging.String("addr", addr.String()))
			}

			if err := rt.Coordinator.Init(ctx); err != nil {
				return err
			}

			started := 0
			for _, res := range rt.Coordinator.StartAll(ctx) {
				status := "started"
				if !res.Success {
					status = "failed: " + res.Error.Error()
				} else {
					started++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.ServerID, status)
			}
			rt.Logger.Info("Servers started",
				logging.Int("started", started),
				logging.Int("configured", len(rt.Coordinator.Servers())),
			)

			<-ctx.Done()
			rt.Logger.Info("Shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}
