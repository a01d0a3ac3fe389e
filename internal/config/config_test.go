package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memSecrets is a test double for the secrets file.
type memSecrets struct {
	data map[string]string
	sets int
}

func (m *memSecrets) Get(account string) (string, error) {
	v, ok := m.data[account]
	if !ok {
		return "", errSecretNotFound
	}
	return v, nil
}

func (m *memSecrets) Set(account, value string) error {
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[account] = value
	m.sets++
	return nil
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(writeTempConfig(t, `{}`), &memSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.BaseURL != "http://localhost:8000" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Worker.PollInterval != 5*time.Second {
		t.Errorf("Worker.PollInterval = %v, want 5s", cfg.Worker.PollInterval)
	}
	if cfg.Worker.OrphanTimeout != 30*time.Minute {
		t.Errorf("Worker.OrphanTimeout = %v, want 30m", cfg.Worker.OrphanTimeout)
	}
	if cfg.Scraper.MaxReviews != 500 || !cfg.Scraper.Headless {
		t.Errorf("Scraper = %+v", cfg.Scraper)
	}
	if cfg.Notify.Backend != "log" {
		t.Errorf("Notify.Backend = %q, want log", cfg.Notify.Backend)
	}
	if cfg.ReportExpiry() != 90*24*time.Hour {
		t.Errorf("ReportExpiry = %v", cfg.ReportExpiry())
	}
	if cfg.API.StartScrapeRPS != 1 {
		t.Errorf("API.StartScrapeRPS = %v", cfg.API.StartScrapeRPS)
	}
}

func TestJSON5File(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
  // operators may comment the file
  "server.port": 9000,
  "server.base_url": "https://reviewiq.hr",
  "scraper.headless": false,
  "scraper.wait_timeout": "30s",
  "api.start_scrape_rps": 0.5,
  "notify.backend": "smtp",
  "smtp.host": "mail.example.com"
}`)

	cfg, err := loadWith(b, &memSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Server.BaseURL != "https://reviewiq.hr" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Scraper.Headless {
		t.Error("Scraper.Headless = true, want false")
	}
	if cfg.Scraper.WaitTimeout != 30*time.Second {
		t.Errorf("Scraper.WaitTimeout = %v", cfg.Scraper.WaitTimeout)
	}
	if cfg.API.StartScrapeRPS != 0.5 {
		t.Errorf("API.StartScrapeRPS = %v", cfg.API.StartScrapeRPS)
	}
	if cfg.SMTP.Host != "mail.example.com" || cfg.SMTP.Port != 587 {
		t.Errorf("SMTP = %+v", cfg.SMTP)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("REVIEWIQ_SERVER_PORT", "7000")
	t.Setenv("REVIEWIQ_WORKER_POLL_INTERVAL", "250ms")
	t.Setenv("REVIEWIQ_SCRAPER_MAX_REVIEWS", "not-a-number")

	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 9000}`), &memSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want env value 7000", cfg.Server.Port)
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v", cfg.Worker.PollInterval)
	}
	if cfg.Scraper.MaxReviews != 500 {
		t.Errorf("unparseable env must keep the default, got %d", cfg.Scraper.MaxReviews)
	}
}

func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{"notify.backend": "resend", "resend.api_key": "from-file"}`)

	_, err := loadWith(b, &memSecrets{})
	if err == nil || !strings.Contains(err.Error(), "missing required config") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	t.Setenv("REVIEWIQ_RESEND_API_KEY", "from-env")
	cfg, err := loadWith(b, &memSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Resend.APIKey != "from-env" {
		t.Errorf("Resend.APIKey = %q", cfg.Resend.APIKey)
	}
}

func TestInvalidBackend(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(writeTempConfig(t, `{"notify.backend": "pigeon"}`), &memSecrets{})
	if err == nil || !strings.Contains(err.Error(), "notify.backend") {
		t.Fatalf("got %v", err)
	}
}

func TestAdminTokenGeneratedOnce(t *testing.T) {
	clearEnv(t)
	secrets := &memSecrets{}
	b := writeTempConfig(t, `{}`)

	first, err := loadWith(b, secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.API.AdminToken == "" {
		t.Fatal("expected a generated admin token")
	}
	second, _ := loadWith(b, secrets)
	if second.API.AdminToken != first.API.AdminToken {
		t.Error("admin token must be stable across loads")
	}
	if secrets.sets != 1 {
		t.Errorf("token stored %d times, want 1", secrets.sets)
	}

	t.Setenv("REVIEWIQ_ADMIN_TOKEN", "from-env")
	third, _ := loadWith(b, secrets)
	if third.API.AdminToken != "from-env" {
		t.Errorf("AdminToken = %q, want env value", third.API.AdminToken)
	}
}

func TestSecretsFileRoundTrip(t *testing.T) {
	f := secretsFile{path: filepath.Join(t.TempDir(), "reviewiq", "secrets.json")}

	if _, err := f.Get("admin_token"); err != errSecretNotFound {
		t.Fatalf("missing file: got %v", err)
	}
	token, err := adminToken(f)
	if err != nil {
		t.Fatalf("adminToken: %v", err)
	}
	got, err := f.Get("admin_token")
	if err != nil || got != token {
		t.Errorf("Get = %q, %v; want %q", got, err, token)
	}
	info, err := os.Stat(f.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "server.port", "9100"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if err := setKey(b, "worker.poll_interval", "2s"); err != nil {
		t.Fatalf("set poll interval: %v", err)
	}
	if err := setKey(b, "worker.poll_interval", "soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKey(b, "smtp.password", "x"); err == nil || !strings.Contains(err.Error(), "REVIEWIQ_SMTP_PASSWORD") {
		t.Errorf("secret key: got %v", err)
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	reloaded := newFileBackend(b.path)
	cfg, err := loadWith(reloaded, &memSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 || cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("reloaded %+v %+v", cfg.Server, cfg.Worker)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Resend.APIKey = "secret-key"
	cfg.API.AdminToken = "secret-token"

	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "secret") {
			t.Errorf("ShowAll leaked %s", k.Key)
		}
		if k.Key == "resend.api_key" || k.Key == "api.admin_token" {
			t.Errorf("ShowAll listed secret key %s", k.Key)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Error("ShowAll and ValidKeys disagree")
	}
}
