package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/alert"
	"github.com/zulandar/switchboard/internal/alert/discord"
	"github.com/zulandar/switchboard/internal/alert/slack"
	"github.com/zulandar/switchboard/internal/assign"
	"github.com/zulandar/switchboard/internal/billing"
	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/operator"
	"github.com/zulandar/switchboard/internal/recovery"
	"github.com/zulandar/switchboard/internal/settings"
	"gorm.io/gorm"
)

const defaultConfigPath = "switchboard.yaml"

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return cfg, gormDB, nil
}

// stack is every core service wired against one database.
type stack struct {
	cfg       *config.Config
	db        *gorm.DB
	log       zerolog.Logger
	settings  *settings.Provider
	events    events.Publisher
	scheduler *assign.Scheduler
	recovery  *recovery.Policy
	operators *operator.Registry
	billing   *billing.Gate
	chats     *chat.Service
	ledger    *ledger.Ledger
	closers   []func() error
}

// close releases connections opened for the stack.
func (s *stack) close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.log.Warn().Err(err).Msg("close")
		}
	}
}

// buildStack wires the services. pub receives every event; alerts may be nil.
func buildStack(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, log zerolog.Logger, pub events.Publisher, alerts alert.Notifier) (*stack, error) {
	provider := settings.NewProvider(gormDB, cfg.Platform)
	if _, err := provider.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("platform settings unreadable, using configured defaults")
	}

	s := &stack{cfg: cfg, db: gormDB, log: log, settings: provider, events: events.Or(pub), ledger: ledger.New(gormDB, nil)}
	var err error
	if s.scheduler, err = assign.New(assign.Opts{DB: gormDB, Events: s.events, Log: log}); err != nil {
		return nil, err
	}
	if s.recovery, err = recovery.New(recovery.Opts{
		DB:          gormDB,
		Settings:    provider,
		Events:      s.events,
		Alerts:      alerts,
		Log:         log,
		CountWindow: cfg.Sweep.CountWindow,
	}); err != nil {
		return nil, err
	}
	if s.operators, err = operator.New(operator.Opts{
		DB:        gormDB,
		Scheduler: s.scheduler,
		Recovery:  s.recovery,
		Settings:  provider,
		Events:    s.events,
		Log:       log,
	}); err != nil {
		return nil, err
	}
	if s.billing, err = billing.New(billing.Opts{DB: gormDB, Settings: provider, Events: s.events, Log: log}); err != nil {
		return nil, err
	}
	if s.chats, err = chat.New(chat.Opts{DB: gormDB, Events: s.events, Log: log}); err != nil {
		return nil, err
	}
	return s, nil
}

// openStack loads config and wires the services for one-shot commands.
// Events go to Redis when configured. Callers must close the stack.
func openStack(ctx context.Context, configPath string, logOut io.Writer) (*stack, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log, logOut)
	return openStackWith(ctx, cfg, gormDB, log, nil)
}

// openStackWith wires the services with the configured event publisher.
func openStackWith(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, log zerolog.Logger, alerts alert.Notifier) (*stack, error) {
	pub, closeFn, err := publisherFromConfig(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	st, err := buildStack(ctx, cfg, gormDB, log, pub, alerts)
	if err != nil {
		if closeFn != nil {
			closeFn()
		}
		return nil, err
	}
	if closeFn != nil {
		st.closers = append(st.closers, closeFn)
	}
	return st, nil
}

// publisherFromConfig connects the Redis event publisher when a URL is
// configured. Both results are nil otherwise. The returned func closes the
// Redis client.
func publisherFromConfig(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (events.Publisher, func() error, error) {
	if cfg.URL == "" {
		return nil, nil, nil
	}
	rp, client, err := events.NewRedisPublisher(ctx, cfg.URL, cfg.Channel, log)
	if err != nil {
		return nil, nil, err
	}
	return rp, client.Close, nil
}

// alertsFromConfig builds the escalation notifier chain. Escalations are
// always logged; Slack and Discord are added when configured.
func alertsFromConfig(cfg config.AlertsConfig, log zerolog.Logger) (alert.Notifier, error) {
	chain := alert.Multi{alert.Logger{Log: log}}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		n, err := slack.New(slack.Opts{BotToken: cfg.SlackToken, ChannelID: cfg.SlackChannel})
		if err != nil {
			return nil, err
		}
		chain = append(chain, n)
	}
	if cfg.DiscordToken != "" && cfg.DiscordChannelID != "" {
		n, err := discord.New(discord.Opts{BotToken: cfg.DiscordToken, ChannelID: cfg.DiscordChannelID})
		if err != nil {
			return nil, err
		}
		chain = append(chain, n)
	}
	return chain, nil
}
