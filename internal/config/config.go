package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Worker    WorkerConfig
	Scraper   ScraperConfig
	Notify    NotifyConfig
	Resend    ResendConfig
	SMTP      SMTPConfig
	Report    ReportConfig
	Telemetry TelemetryConfig
	API       APIConfig
}

type ServerConfig struct {
	Port    int
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type WorkerConfig struct {
	PollInterval  time.Duration
	OrphanTimeout time.Duration
}

type ScraperConfig struct {
	MaxReviews  int
	Headless    bool
	WaitTimeout time.Duration
	UserAgent   string
	ExecPath    string
}

type NotifyConfig struct {
	// Backend is one of log, resend or smtp.
	Backend    string
	From       string
	AdminEmail string
}

type ResendConfig struct {
	APIKey string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

type ReportConfig struct {
	ExpiryDays int
}

type TelemetryConfig struct {
	// OTLPEndpoint disables tracing export when empty.
	OTLPEndpoint string
}

type APIConfig struct {
	StartScrapeRPS float64
	AdminToken     string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    8000,
			BaseURL: "http://localhost:8000",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Worker: WorkerConfig{
			PollInterval:  5 * time.Second,
			OrphanTimeout: 30 * time.Minute,
		},
		Scraper: ScraperConfig{
			MaxReviews:  500,
			Headless:    true,
			WaitTimeout: 15 * time.Second,
		},
		Notify: NotifyConfig{
			Backend: "log",
			From:    "ReviewIQ <info@reviewiq.hr>",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Report: ReportConfig{
			ExpiryDays: 90,
		},
		API: APIConfig{
			StartScrapeRPS: 1,
		},
	}
}

// Load reads configuration in layers: defaults, the JSON5 file at
// $XDG_CONFIG_HOME/reviewiq/config.json, then REVIEWIQ_* environment
// variables. A .env file in the working directory is loaded into the
// environment first and never overrides variables already set.
//
// Secrets come from the environment only. The admin API token is read from
// REVIEWIQ_ADMIN_TOKEN or the secrets file, and generated on first use.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.AdminToken == "" {
		token, err := adminToken(secrets)
		if err != nil {
			return Config{}, err
		}
		cfg.API.AdminToken = token
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Notify.Backend {
	case "log":
	case "resend":
		if c.Resend.APIKey == "" {
			return fmt.Errorf("missing required config: Resend API key. Set it via environment variable REVIEWIQ_RESEND_API_KEY")
		}
	case "smtp":
		if c.SMTP.Host == "" {
			return fmt.Errorf("missing required config: smtp.host for the smtp notify backend")
		}
	default:
		return fmt.Errorf("invalid notify.backend %q: want log, resend or smtp", c.Notify.Backend)
	}
	if c.Scraper.MaxReviews <= 0 {
		return fmt.Errorf("invalid scraper.max_reviews %d: must be positive", c.Scraper.MaxReviews)
	}
	if c.Report.ExpiryDays <= 0 {
		return fmt.Errorf("invalid report.expiry_days %d: must be positive", c.Report.ExpiryDays)
	}
	return nil
}

// ReportExpiry is the report lifetime as a duration.
func (c Config) ReportExpiry() time.Duration {
	return time.Duration(c.Report.ExpiryDays) * 24 * time.Hour
}
