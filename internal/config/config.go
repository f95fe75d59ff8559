package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ConfigURL     string
	NotifyWebhook string
	LogWebhook    string
	LogMention    string
	LogAlertLevel string

	BaseURL string
	Rooms   []string

	PollInterval          time.Duration
	ConfigRefreshInterval time.Duration
	FetchTimeout          time.Duration
	FetchConcurrency      int
	FetchRetry            int

	RedisURL      string
	SeenNamespace string
	SeenTTL       time.Duration

	DatabaseURL    string
	MsgTemplateDir string
}

func defaults() *AppConfig {
	return &AppConfig{
		BaseURL:               "https://ccrl.live",
		LogAlertLevel:         "info",
		PollInterval:          30 * time.Second,
		ConfigRefreshInterval: 5 * time.Minute,
		FetchTimeout:          10 * time.Second,
		FetchConcurrency:      4,
		FetchRetry:            2,
	}
}

// FromEnv reads the environment without validating it, so command-line flags
// can fill gaps before Validate runs.
func FromEnv() *AppConfig {
	cfg := defaults()

	cfg.ConfigURL = strings.TrimSpace(os.Getenv("CCRL_CONFIG_URL"))
	cfg.NotifyWebhook = strings.TrimSpace(os.Getenv("CCRL_NOTIFY_WEBHOOK"))
	cfg.LogWebhook = strings.TrimSpace(os.Getenv("CCRL_LOG_WEBHOOK"))
	cfg.LogMention = strings.TrimSpace(os.Getenv("CCRL_LOG_MENTION"))
	if v := strings.TrimSpace(os.Getenv("CCRL_LOG_ALERT_LEVEL")); v != "" {
		cfg.LogAlertLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("CCRL_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	cfg.Rooms = SplitList(os.Getenv("CCRL_ROOMS"))

	seconds("POLL_INTERVAL_SEC", &cfg.PollInterval)
	seconds("CONFIG_REFRESH_SEC", &cfg.ConfigRefreshInterval)
	seconds("FETCH_TIMEOUT_SEC", &cfg.FetchTimeout)
	positive("FETCH_CONCURRENCY", &cfg.FetchConcurrency)
	positive("FETCH_RETRY", &cfg.FetchRetry)

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.SeenNamespace = strings.TrimSpace(os.Getenv("SEEN_NAMESPACE"))
	seconds("SEEN_TTL_SEC", &cfg.SeenTTL)

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MsgTemplateDir = strings.TrimSpace(os.Getenv("MSG_TEMPLATE_DIR"))
	return cfg
}

// Load reads and validates the environment.
func Load() (*AppConfig, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if c.ConfigURL == "" {
		return errors.New("CCRL_CONFIG_URL is required")
	}
	if c.NotifyWebhook == "" {
		return errors.New("CCRL_NOTIFY_WEBHOOK is required")
	}
	if len(c.Rooms) == 0 {
		return errors.New("CCRL_ROOMS is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// SplitList splits a comma separated value, dropping blanks and duplicates.
func SplitList(v string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(v, ",") {
		s := strings.TrimSpace(p)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func seconds(key string, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func positive(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
