package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/recovery"
	"github.com/zulandar/switchboard/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		noSweep    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the idle sweeper",
		Long: `Serves the operator, user and admin API and runs the idle sweep on the
configured cron schedule. Events are streamed on /v1/events and, when
redis.url is set, published to Redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, listen, noSweep)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides server.listen)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the idle sweeper in this process")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, listen string, noSweep bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log, cmd.ErrOrStderr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	broker := events.NewBroker(0)
	defer broker.Close()
	pub := events.Multi{broker}
	rp, closeRedis, err := publisherFromConfig(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	if rp != nil {
		defer closeRedis()
		pub = append(pub, rp)
		fmt.Fprintf(cmd.OutOrStdout(), "Publishing events to Redis channel %s\n", cfg.Redis.Channel)
	}

	alerts, err := alertsFromConfig(cfg.Alerts, log)
	if err != nil {
		return err
	}
	st, err := buildStack(ctx, cfg, gormDB, log, pub, alerts)
	if err != nil {
		return err
	}

	if !noSweep {
		sweeper, err := recovery.NewSweeper(st.recovery, cfg.Sweep.Schedule, st.settings, log)
		if err != nil {
			return err
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
		fmt.Fprintf(cmd.OutOrStdout(), "Idle sweep scheduled %s\n", cfg.Sweep.Schedule)
	}

	if listen == "" {
		listen = cfg.Server.Listen
	}
	srv, err := server.New(server.Opts{
		Operators: st.operators,
		Recovery:  st.recovery,
		Billing:   st.billing,
		Chats:     st.chats,
		Ledger:    st.ledger,
		Broker:    broker,
		Log:       log,
		Addr:      listen,
		Out:       cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}
