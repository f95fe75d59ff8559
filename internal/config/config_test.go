package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("CCRL_CONFIG_URL", "https://example.test/notify.yaml")
	t.Setenv("CCRL_NOTIFY_WEBHOOK", "https://discord.com/api/webhooks/1/x")
	t.Setenv("CCRL_ROOMS", "133, 134,,133")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil { t.Fatalf("load: %v", err) }
	if !reflect.DeepEqual(cfg.Rooms, []string{"133", "134"}) { t.Fatalf("rooms = %v", cfg.Rooms) }
	if cfg.PollInterval != 30*time.Second { t.Fatalf("poll = %v", cfg.PollInterval) }
	if cfg.ConfigRefreshInterval != 5*time.Minute { t.Fatalf("refresh = %v", cfg.ConfigRefreshInterval) }
	if cfg.FetchConcurrency != 4 || cfg.FetchRetry != 2 { t.Fatalf("fetch = %d/%d", cfg.FetchConcurrency, cfg.FetchRetry) }
	if cfg.BaseURL != "https://ccrl.live" { t.Fatalf("base = %q", cfg.BaseURL) }
	if cfg.SeenTTL != 0 || cfg.SeenNamespace != "" { t.Fatalf("seen defaults = %v %q", cfg.SeenTTL, cfg.SeenNamespace) }
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL_SEC", "10")
	t.Setenv("SEEN_TTL_SEC", "86400")
	t.Setenv("FETCH_CONCURRENCY", "-3")
	t.Setenv("CCRL_BASE_URL", " http://localhost:8080 ")
	t.Setenv("SEEN_NAMESPACE", "prod")

	cfg, err := Load()
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.PollInterval != 10*time.Second { t.Fatalf("poll = %v", cfg.PollInterval) }
	if cfg.SeenTTL != 24*time.Hour { t.Fatalf("ttl = %v", cfg.SeenTTL) }
	if cfg.FetchConcurrency != 4 { t.Fatalf("negative concurrency should be ignored, got %d", cfg.FetchConcurrency) }
	if cfg.BaseURL != "http://localhost:8080" { t.Fatalf("base = %q", cfg.BaseURL) }
	if cfg.SeenNamespace != "prod" { t.Fatalf("namespace = %q", cfg.SeenNamespace) }
}

func TestLoadRequired(t *testing.T) {
	for _, key := range []string{"CCRL_CONFIG_URL", "CCRL_NOTIFY_WEBHOOK", "CCRL_ROOMS"} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, " ")
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), key) { t.Fatalf("want %s error, got %v", key, err) }
		})
	}
}

func TestSplitList(t *testing.T) {
	if got := SplitList(""); got != nil { t.Fatalf("empty = %v", got) }
	if got := SplitList(" a ,b,a, "); !reflect.DeepEqual(got, []string{"a", "b"}) { t.Fatalf("got %v", got) }
}
