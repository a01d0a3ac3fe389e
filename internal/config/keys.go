package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "REVIEWIQ_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.base_url", typ: kString, env: "REVIEWIQ_SERVER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.BaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "REVIEWIQ_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "REVIEWIQ_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "worker.poll_interval", typ: kDuration, env: "REVIEWIQ_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.orphan_timeout", typ: kDuration, env: "REVIEWIQ_WORKER_ORPHAN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Worker.OrphanTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.OrphanTimeout },
	},
	{
		key: "scraper.max_reviews", typ: kInt, env: "REVIEWIQ_SCRAPER_MAX_REVIEWS",
		apply:   func(cfg *Config, v any) { cfg.Scraper.MaxReviews = v.(int) },
		extract: func(cfg Config) any { return cfg.Scraper.MaxReviews },
	},
	{
		key: "scraper.headless", typ: kBool, env: "REVIEWIQ_SCRAPER_HEADLESS",
		apply:   func(cfg *Config, v any) { cfg.Scraper.Headless = v.(bool) },
		extract: func(cfg Config) any { return cfg.Scraper.Headless },
	},
	{
		key: "scraper.wait_timeout", typ: kDuration, env: "REVIEWIQ_SCRAPER_WAIT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Scraper.WaitTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scraper.WaitTimeout },
	},
	{
		key: "scraper.user_agent", typ: kString, env: "REVIEWIQ_SCRAPER_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Scraper.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Scraper.UserAgent },
	},
	{
		key: "scraper.exec_path", typ: kString, env: "REVIEWIQ_SCRAPER_EXEC_PATH",
		apply:   func(cfg *Config, v any) { cfg.Scraper.ExecPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Scraper.ExecPath },
	},
	{
		key: "notify.backend", typ: kString, env: "REVIEWIQ_NOTIFY_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Notify.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.Backend },
	},
	{
		key: "notify.from", typ: kString, env: "REVIEWIQ_NOTIFY_FROM",
		apply:   func(cfg *Config, v any) { cfg.Notify.From = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.From },
	},
	{
		key: "notify.admin_email", typ: kString, env: "REVIEWIQ_NOTIFY_ADMIN_EMAIL",
		apply:   func(cfg *Config, v any) { cfg.Notify.AdminEmail = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.AdminEmail },
	},
	{
		key: "resend.api_key", typ: kString, env: "REVIEWIQ_RESEND_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Resend.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Resend.APIKey },
	},
	{
		key: "smtp.host", typ: kString, env: "REVIEWIQ_SMTP_HOST",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Host },
	},
	{
		key: "smtp.port", typ: kInt, env: "REVIEWIQ_SMTP_PORT",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.SMTP.Port },
	},
	{
		key: "smtp.username", typ: kString, env: "REVIEWIQ_SMTP_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.SMTP.Username = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Username },
	},
	{
		key: "smtp.password", typ: kString, env: "REVIEWIQ_SMTP_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.SMTP.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.SMTP.Password },
	},
	{
		key: "report.expiry_days", typ: kInt, env: "REVIEWIQ_REPORT_EXPIRY_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Report.ExpiryDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Report.ExpiryDays },
	},
	{
		key: "telemetry.otlp_endpoint", typ: kString, env: "REVIEWIQ_TELEMETRY_OTLP_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.OTLPEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.OTLPEndpoint },
	},
	{
		key: "api.start_scrape_rps", typ: kFloat, env: "REVIEWIQ_API_START_SCRAPE_RPS",
		apply:   func(cfg *Config, v any) { cfg.API.StartScrapeRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.API.StartScrapeRPS },
	},
	{
		key: "api.admin_token", typ: kString, env: "REVIEWIQ_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.API.AdminToken },
	},
}

// parseValue converts raw into the Go type of typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
