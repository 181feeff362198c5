package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func runCmd(configPath *string) *cobra.Command {
	var rounds int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the round script in the foreground",
		Long: `Run the round script from config.yaml until rounds.count rounds have
completed, or until interrupted.

Examples:
  autodelta run                  # rounds.count from config
  autodelta run --rounds 5       # override the round count
  autodelta run --rounds 0       # run until Ctrl-C`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("rounds") {
				cfg.Rounds.Count = rounds
			}
			cfg.Log.Console = true

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.touch.Connect(ctx); err != nil {
				return err
			}
			err = a.engine.Run(ctx)
			if errors.Is(err, context.Canceled) {
				a.bus.Log("info", "收到退出信号", nil)
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&rounds, "rounds", "n", 0, "number of rounds to run; 0 runs until stopped")
	return cmd
}
