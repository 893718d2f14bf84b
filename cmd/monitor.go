package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/heartbeat"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the worker liveness monitor",
	Long:  "Sweeps worker heartbeats, releases the leases of dead workers so their work returns to the backlog, and alerts once per dead period.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("monitor"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		mon := heartbeat.NewMonitor(st, initNotifier(), heartbeat.MonitorConfig{
			SweepInterval:     time.Duration(cfg.Heartbeat.SweepSecs) * time.Second,
			HeartbeatInterval: heartbeatInterval(),
			DeadMultiplier:    cfg.Heartbeat.DeadMultiplier,
			StaleAfter:        time.Duration(cfg.Heartbeat.StaleHours) * time.Hour,
		})

		zap.L().Info("monitor starting",
			zap.Duration("threshold", mon.Threshold()),
		)
		mon.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
