package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/logger"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one idle sweep and exit",
		Long:  "Releases every chat whose operator has been idle past the timeout, re-queuing or escalating it. Intended for external schedulers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	ctx := context.Background()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log, cmd.ErrOrStderr())
	alerts, err := alertsFromConfig(cfg.Alerts, log)
	if err != nil {
		return err
	}
	st, err := openStackWith(ctx, cfg, gormDB, log, alerts)
	if err != nil {
		return err
	}
	defer st.close()

	res, err := st.recovery.Sweep(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanned %d idle chat(s): %d re-queued, %d escalated, %d skipped, %d failed\n",
		res.Scanned, res.Reassigned, res.Escalated, res.Skipped, res.Failed)
	for _, r := range res.Releases {
		fmt.Fprintf(out, "  %s  %s  %s  (prior releases: %d)\n", r.ChatID, r.OperatorID, r.Outcome, r.PriorReleases)
	}
	if res.Failed > 0 {
		return fmt.Errorf("sweep: %d chat(s) failed", res.Failed)
	}
	return nil
}
