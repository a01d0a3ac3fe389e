package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/reviewiq/internal/api"
	"github.com/kalambet/reviewiq/internal/config"
	"github.com/kalambet/reviewiq/internal/notify"
	"github.com/kalambet/reviewiq/internal/pipeline"
	"github.com/kalambet/reviewiq/internal/queue"
	"github.com/kalambet/reviewiq/internal/report"
	"github.com/kalambet/reviewiq/internal/scraper"
	"github.com/kalambet/reviewiq/internal/scraper/chromebrowser"
	"github.com/kalambet/reviewiq/internal/storage"
	"github.com/kalambet/reviewiq/internal/telemetry"
	"github.com/kalambet/reviewiq/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Serve the API and run the worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		noWorker, _ := cmd.Flags().GetBool("no-worker")
		return runServer(true, !noWorker)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the task worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(false, true)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running reviewiq server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reviewiq server and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("no-worker", false, "serve the API without running the worker")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "reviewiq.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// app holds the components shared by the server, worker and MCP commands.
type app struct {
	cfg      config.Config
	store    *storage.Store
	queue    *queue.Queue
	notifier notify.Notifier
	intake   *pipeline.Intake
	scrape   *pipeline.ScrapeAndReport
}

func newApp(cfg config.Config, open pipeline.BrowserOpener) (*app, error) {
	notifier, err := newNotifier(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	q := queue.New(store)

	a := &app{
		cfg:      cfg,
		store:    store,
		queue:    q,
		notifier: notifier,
		intake:   pipeline.NewIntake(store, q, notifier),
	}
	a.scrape = pipeline.NewScrapeAndReport(store, report.NewAssembler(store, cfg.ReportExpiry()), notifier, open, pipeline.Config{
		DataDir: cfg.Storage.DataDir,
		BaseURL: cfg.Server.BaseURL,
		Scraper: scraperOptions(cfg),
	})
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func (a *app) worker() *worker.Worker {
	w := worker.New(a.queue, worker.Options{
		PollInterval:  a.cfg.Worker.PollInterval,
		OrphanTimeout: a.cfg.Worker.OrphanTimeout,
	})
	w.Handle(queue.TypeScrapeAndReport, a.scrape)
	w.Subscribe(worker.RecordMetrics)
	w.Subscribe(worker.LogExhausted(slog.Default()))
	w.Subscribe(pipeline.FailOrders(a.store, a.queue))
	return w
}

func (a *app) handler() http.Handler {
	return api.NewHandler(api.Deps{
		Store:          a.store,
		Queue:          a.queue,
		Intake:         a.intake,
		Reports:        a.scrape,
		AdminToken:     a.cfg.API.AdminToken,
		StartScrapeRPS: a.cfg.API.StartScrapeRPS,
	})
}

func newNotifier(cfg config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Backend {
	case "resend":
		return notify.NewResend(notify.ResendConfig{
			APIKey:     cfg.Resend.APIKey,
			From:       cfg.Notify.From,
			AdminEmail: cfg.Notify.AdminEmail,
		})
	case "smtp":
		return notify.NewSMTP(notify.SMTPConfig{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			Username:   cfg.SMTP.Username,
			Password:   cfg.SMTP.Password,
			From:       cfg.Notify.From,
			AdminEmail: cfg.Notify.AdminEmail,
		})
	default:
		return notify.NewLog(), nil
	}
}

func scraperOptions(cfg config.Config) scraper.Options {
	opts := scraper.DefaultOptions()
	opts.MaxRecords = cfg.Scraper.MaxReviews
	opts.WaitTimeout = cfg.Scraper.WaitTimeout
	return opts
}

// chromeOpener starts a fresh Chrome per task so a crashed browser never
// outlives its attempt.
func chromeOpener(cfg config.ScraperConfig) pipeline.BrowserOpener {
	return func(ctx context.Context) (scraper.Browser, func(), error) {
		b, err := chromebrowser.New(chromebrowser.Options{
			Headless:  cfg.Headless,
			UserAgent: cfg.UserAgent,
			ExecPath:  cfg.ExecPath,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("starting browser: %w", err)
		}
		return b, func() {
			if err := b.Close(); err != nil {
				slog.Warn("closing browser", "error", err)
			}
		}, nil
	}
}

func runServer(serveAPI, runWorker bool) error {
	fmt.Fprintf(os.Stderr, "reviewiq version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, "reviewiq", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	a, err := newApp(cfg, chromeOpener(cfg.Scraper))
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	if serveAPI {
		pidPath := pidFilePath(cfg.Storage.DataDir)
		healthClient := &http.Client{Timeout: 2 * time.Second}
		if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
			resp.Body.Close()
			printWarning("reviewiq is already running on port %d", cfg.Server.Port)
			return fmt.Errorf("server already running on port %d", cfg.Server.Port)
		}
		if err := writePIDFile(pidPath); err != nil {
			return fmt.Errorf("writing PID file: %w", err)
		}
		defer removePIDFile(pidPath)

		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(_ net.Listener) context.Context {
				return gctx
			},
		}
		g.Go(func() error {
			slog.Info("reviewiq listening", "addr", addr, "base_url", cfg.Server.BaseURL)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if runWorker {
		w := a.worker()
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "shutting down...")
	return err
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, chromeOpener(cfg.Scraper))
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: a.store, Intake: a.intake})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("reviewiq is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop reviewiq (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to reviewiq (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := newClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port), cfg.API.AdminToken)
	var health map[string]string
	if err := client.get(ctx, "/health", &health); err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		for _, status := range []string{"pending", "processing", "failed"} {
			var resp tasksResponse
			if err := client.get(ctx, "/admin/tasks?limit=100&status="+status, &resp); err == nil {
				printStatus(strings.ToUpper(status[:1])+status[1:]+" tasks", "%s", countLabel(len(resp.Tasks), 100))
			}
		}
	}

	printStatus("Base URL", "%s", cfg.Server.BaseURL)
	printStatus("Notify", "%s", cfg.Notify.Backend)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
