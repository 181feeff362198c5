package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autodelta/internal/bridge/adb"
	"autodelta/internal/bridge/touch"
	"autodelta/internal/bridge/vision"
	"autodelta/internal/config"
	"autodelta/internal/logbus"
	"autodelta/internal/store/sqlite"
)

type checkResult struct {
	Name   string
	Err    error
	Detail string
}

func doctorCmd(configPath *string) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, storage, bridges and the adb device",
		Long: `Validate the environment before an unattended run.

Checks:
- config.yaml parses and validates
- the sqlite file opens
- the vision bridge answers /health
- the touch bridge accepts a websocket
- adb sees the configured device

Examples:
  autodelta doctor              # print a table
  autodelta doctor --quiet      # exit code only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			cfg, err := loadConfig(*configPath)
			results := []checkResult{{Name: "config", Err: err, Detail: *configPath}}
			if err == nil {
				results = append(results, runChecks(ctx, cfg)...)
			}

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			if !quiet {
				printResults(results)
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "exit code only")
	return cmd
}

func runChecks(ctx context.Context, cfg config.Config) []checkResult {
	bus := logbus.New(cfg.Log.Buffer)
	var out []checkResult

	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err == nil {
		err = store.Ping(ctx)
		_ = store.Close()
	}
	out = append(out, checkResult{Name: "sqlite", Err: err, Detail: cfg.Storage.SQLitePath})

	out = append(out, checkResult{Name: "vision", Err: vision.New(cfg.Bridge, bus).Health(ctx), Detail: cfg.Bridge.VisionURL})

	tc := touch.New(cfg.Bridge, bus)
	err = tc.Connect(ctx)
	_ = tc.Close()
	out = append(out, checkResult{Name: "touch", Err: err, Detail: cfg.Bridge.TouchURL})

	device := adb.New(adb.Options{Config: cfg.Device, Bus: bus})
	detail := cfg.Device.Serial
	if detail == "" {
		detail = "(any device)"
	}
	out = append(out, checkResult{Name: "adb", Err: device.Check(ctx), Detail: detail})

	if len(cfg.Rounds.Steps) == 0 {
		out = append(out, checkResult{Name: "rounds", Err: errors.New("rounds.steps is empty")})
	} else {
		out = append(out, checkResult{Name: "rounds", Detail: fmt.Sprintf("%d steps", len(cfg.Rounds.Steps))})
	}
	return out
}

func printResults(results []checkResult) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()

	fmt.Println()
	fmt.Println("Check      Status")
	fmt.Println("─────────────────")
	for _, r := range results {
		status := ok("✓")
		if r.Err != nil {
			status = bad("✗")
		}
		fmt.Printf("%-10s %s  %s\n", r.Name, status, r.Detail)
	}
	fmt.Println()
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%s: %v\n", bad(r.Name), r.Err)
		}
	}
}
