package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appcfg "github.com/park285/ccrl-live-notifier/internal/config"
	"github.com/park285/ccrl-live-notifier/internal/ccrllive"
	"github.com/park285/ccrl-live-notifier/internal/confsource"
	"github.com/park285/ccrl-live-notifier/internal/discordhook"
	"github.com/park285/ccrl-live-notifier/internal/history"
	"github.com/park285/ccrl-live-notifier/internal/httpfast"
	"github.com/park285/ccrl-live-notifier/internal/msgcat"
	"github.com/park285/ccrl-live-notifier/internal/notify"
	"github.com/park285/ccrl-live-notifier/internal/obslog"
	"github.com/park285/ccrl-live-notifier/internal/seen"
	"github.com/park285/ccrl-live-notifier/internal/watcher"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ccrl-notifier:", err)
		os.Exit(1)
	}
}

type flags struct {
	configURL     string
	notifyWebhook string
	logWebhook    string
	rooms         []string
	labelOpenings bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "ccrl-notifier",
		Short:         "Announce new CCRL live games to subscribed Discord users",
		Long:          "Polls CCRL live broadcast rooms and posts a Discord message when a watched engine starts a new game.\nFlags override the matching environment variables.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := appcfg.FromEnv()
			applyFlags(cmd, f, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, f.labelOpenings)
		},
	}
	cmd.Flags().StringVar(&f.configURL, "config-url", "", "subscription document (http(s)://, s3://bucket/key or file path) [CCRL_CONFIG_URL]")
	cmd.Flags().StringVar(&f.notifyWebhook, "notify-webhook", "", "Discord webhook for game announcements [CCRL_NOTIFY_WEBHOOK]")
	cmd.Flags().StringVar(&f.logWebhook, "log-webhook", "", "Discord webhook for log alerts [CCRL_LOG_WEBHOOK]")
	cmd.Flags().StringSliceVar(&f.rooms, "room", nil, "room code to watch, repeatable [CCRL_ROOMS]")
	cmd.Flags().BoolVar(&f.labelOpenings, "label-openings", true, "include the ECO opening of the book line in announcements")
	return cmd
}

func applyFlags(cmd *cobra.Command, f *flags, cfg *appcfg.AppConfig) {
	if cmd.Flags().Changed("config-url") {
		cfg.ConfigURL = f.configURL
	}
	if cmd.Flags().Changed("notify-webhook") {
		cfg.NotifyWebhook = f.notifyWebhook
	}
	if cmd.Flags().Changed("log-webhook") {
		cfg.LogWebhook = f.logWebhook
	}
	if cmd.Flags().Changed("room") {
		cfg.Rooms = appcfg.SplitList(strings.Join(f.rooms, ","))
	}
}

func run(ctx context.Context, cfg *appcfg.AppConfig, labelOpenings bool) error {
	cat, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}

	var alertCore zapcore.Core
	if cfg.LogWebhook != "" {
		hook, err := discordhook.New(cfg.LogWebhook)
		if err != nil {
			return fmt.Errorf("log webhook: %w", err)
		}
		alertCore = obslog.NewWebhookCore(hook, obslog.ParseLevel(cfg.LogAlertLevel),
			obslog.WithMention(cfg.LogMention),
			obslog.WithFormatter(func(a obslog.Alert) (string, error) { return cat.Render("log.alert", a) }),
		)
	}
	if err := obslog.InitFromEnv(alertCore); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()
	defer obslog.ReportPanic(logger)

	hc := httpfast.New(httpfast.WithTimeout(cfg.FetchTimeout), httpfast.WithRetry(cfg.FetchRetry))
	rooms := ccrllive.NewClient(cfg.BaseURL, hc)

	src, err := confsource.Open(ctx, cfg.ConfigURL, hc)
	if err != nil {
		return err
	}

	notifyHook, err := discordhook.New(cfg.NotifyWebhook)
	if err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	w := watcher.New(watcher.Options{
		Rooms:                 cfg.Rooms,
		PollInterval:          cfg.PollInterval,
		ConfigRefreshInterval: cfg.ConfigRefreshInterval,
		FetchConcurrency:      cfg.FetchConcurrency,
		RoomURL:               rooms.RoomURL,
		LabelOpenings:         labelOpenings,
	}, rooms, confsource.NewLoader(src), store, notify.NewDiscord(notifyHook, cat), logger)

	if cfg.DatabaseURL != "" {
		repo, err := history.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer func() { _ = repo.Close() }()
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		w.SetRecorder(repo)
	}

	if err := w.LoadConfig(ctx); err != nil {
		logger.Error("notify_config_initial_load_failed", zap.String("source", src.String()), zap.Error(err))
		return fmt.Errorf("load notify config: %w", err)
	}

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) (seen.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("seen_store", zap.String("backend", "memory"), zap.Duration("ttl", cfg.SeenTTL))
		return seen.NewMemoryStore(seen.WithMemoryTTL(cfg.SeenTTL)), func() {}, nil
	}
	rdb, err := seen.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	store := seen.NewRedisStore(rdb, seen.WithNamespace(cfg.SeenNamespace), seen.WithTTL(cfg.SeenTTL))
	logger.Info("seen_store",
		zap.String("backend", "redis"),
		zap.String("namespace", store.Namespace()),
		zap.Duration("ttl", cfg.SeenTTL),
	)
	return store, func() { _ = rdb.Close() }, nil
}
