package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kalambet/reviewiq/internal/config"
	"github.com/kalambet/reviewiq/internal/report"
	"github.com/kalambet/reviewiq/internal/review"
	"github.com/kalambet/reviewiq/internal/scraper"
	"github.com/kalambet/reviewiq/internal/scraper/chromebrowser"
	"github.com/kalambet/reviewiq/internal/scraper/htmlfixture"
	"github.com/kalambet/reviewiq/internal/storage"
)

// out is where tables and JSON go; tests swap it.
var out io.Writer = os.Stdout

// --- scrape ---

var scrapeCmd = &cobra.Command{
	Use:   "scrape <restaurant-url>",
	Short: "Order a review report for a restaurant",
	Long: `Order a review report for a restaurant listing through the running server.

Examples:
  reviewiq scrape https://www.tripadvisor.com/Restaurant_Review-...-Nautika-Dubrovnik.html --email owner@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		if email == "" {
			return fmt.Errorf("--email is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			OrderID string `json:"order_id"`
			TaskID  int64  `json:"task_id"`
		}
		err = client.post(cmd.Context(), "/start-scrape", map[string]string{
			"email":           email,
			"restaurant_url":  args[0],
			"restaurant_name": name,
		}, &resp)
		if err != nil {
			return err
		}
		printSuccess("Queued order %s (task %d)", resp.OrderID, resp.TaskID)
		return nil
	},
}

func init() {
	scrapeCmd.Flags().String("email", "", "address the report link is sent to")
	scrapeCmd.Flags().String("name", "", "restaurant display name (derived from the URL when empty)")
}

// --- order ---

var orderCmd = &cobra.Command{
	Use:   "order <order-id>",
	Short: "Show an order's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var o struct {
			ID        string     `json:"id"`
			Status    string     `json:"status"`
			ReportURL string     `json:"report_url"`
			ExpiresAt *time.Time `json:"expires_at"`
		}
		if err := client.get(cmd.Context(), "/order/"+url.PathEscape(args[0]), &o); err != nil {
			return err
		}
		printStatus("Order", "%s", o.ID)
		printStatus("Status", "%s", statusColor(o.Status))
		if o.ReportURL != "" {
			printStatus("Report", "%s", o.ReportURL)
		}
		if o.ExpiresAt != nil {
			printStatus("Expires", "%s", o.ExpiresAt.Format(time.DateOnly))
		}
		return nil
	},
}

var ordersCmd = &cobra.Command{
	Use:   "list",
	Short: "List orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Orders []storage.Order `json:"orders"`
		}
		if err := client.get(cmd.Context(), "/admin/orders?status="+url.QueryEscape(status), &resp); err != nil {
			return err
		}
		if len(resp.Orders) == 0 {
			fmt.Fprintln(out, "No orders.")
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.AppendHeader(table.Row{"ID", "Restaurant", "Email", "Status", "Created"})
		for _, o := range resp.Orders {
			t.AppendRow(table.Row{o.ID, o.RestaurantName, o.Email, statusColor(string(o.Status)), o.CreatedAt.Format(time.DateTime)})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

func init() {
	ordersCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	orderCmd.AddCommand(ordersCmd)
}

// --- tasks ---

type tasksResponse struct {
	Tasks []storage.Task `json:"tasks"`
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and retry queued tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if status != "" {
			q.Set("status", status)
		}
		var resp tasksResponse
		if err := client.get(cmd.Context(), "/admin/tasks?"+q.Encode(), &resp); err != nil {
			return err
		}
		if len(resp.Tasks) == 0 {
			fmt.Fprintln(out, "No tasks.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.AppendHeader(table.Row{"ID", "Type", "Status", "Retries", "Created", "Error"})
		for _, task := range resp.Tasks {
			t.AppendRow(table.Row{task.ID, task.Type, statusColor(string(task.Status)), task.RetryCount,
				task.CreatedAt.Format(time.DateTime), truncate(task.Error, 60)})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var task storage.Task
		if err := client.get(cmd.Context(), "/admin/tasks/"+url.PathEscape(args[0]), &task); err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	},
}

var tasksRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Re-queue a task that exhausted its retries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			TaskID int64 `json:"task_id"`
		}
		if err := client.post(cmd.Context(), "/admin/tasks/"+url.PathEscape(args[0])+"/retry", nil, &resp); err != nil {
			return err
		}
		printSuccess("Task %s re-queued as task %d", args[0], resp.TaskID)
		return nil
	},
}

func init() {
	tasksListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	tasksListCmd.Flags().Int("limit", 20, "maximum number of tasks")
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksRetryCmd)
}

// --- regenerate ---

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <order-id>",
	Short: "Rebuild an order's report from its stored dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Status string `json:"status"`
			TaskID int64  `json:"task_id"`
		}
		if err := client.post(cmd.Context(), "/admin/orders/"+url.PathEscape(args[0])+"/regenerate", nil, &resp); err != nil {
			return err
		}
		if resp.Status == "queued" {
			printWarning("No dataset for order %s, queued a new scrape (task %d)", args[0], resp.TaskID)
			return nil
		}
		printSuccess("Report for order %s regenerated", args[0])
		return nil
	},
}

// --- crawl ---

var crawlCmd = &cobra.Command{
	Use:   "crawl [restaurant-url]",
	Short: "Run one scrape locally and write the dataset as CSV",
	Long: `Run one scrape in this process without the queue and write the records as CSV.

With --replay the pages come from saved HTML files in a directory, read in
name order, instead of a live browser.

Examples:
  reviewiq crawl https://www.tripadvisor.com/Restaurant_Review-...html --max 50 --out reviews.csv
  reviewiq crawl --replay ./testdata/nautika`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxRecords, _ := cmd.Flags().GetInt("max")
		outPath, _ := cmd.Flags().GetString("out")
		replay, _ := cmd.Flags().GetString("replay")

		opts := scraper.DefaultOptions()
		if maxRecords > 0 {
			opts.MaxRecords = maxRecords
		}

		var (
			browser scraper.Browser
			target  string
		)
		if replay != "" {
			site, err := htmlfixture.LoadDir(replay)
			if err != nil {
				return fmt.Errorf("loading replay pages: %w", err)
			}
			browser = htmlfixture.New(site)
			target = site.Entry()
			opts.Pacer = scraper.NewInstantPacer()
		} else {
			if len(args) == 0 {
				return fmt.Errorf("a restaurant URL or --replay is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.WaitTimeout = cfg.Scraper.WaitTimeout
			b, err := chromebrowser.New(chromebrowser.Options{
				Headless:  cfg.Scraper.Headless,
				UserAgent: cfg.Scraper.UserAgent,
				ExecPath:  cfg.Scraper.ExecPath,
			})
			if err != nil {
				return fmt.Errorf("starting browser: %w", err)
			}
			defer b.Close()
			browser = b
			target = args[0]
		}

		printStep("Scraping %s", target)
		session := scraper.NewSession(browser, opts)
		records, err := session.Run(cmd.Context(), target)
		if err != nil {
			return err
		}

		if outPath == "" {
			if err := review.WriteCSV(out, records); err != nil {
				return err
			}
		} else if err := review.WriteCSVFile(outPath, records); err != nil {
			return err
		}

		stats := report.Compute(records)
		printSuccess("Collected %d reviews over %d pages (%s)", stats.TotalReviews, session.Pages(), session.Outcome())
		printStatus("Origins", "%d", stats.DistinctOrigins)
		printStatus("Mean rating", "%.2f", stats.MeanRating)
		if outPath != "" {
			printStatus("Written", "%s", outPath)
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().Int("max", 0, "maximum number of reviews (default from scraper settings)")
	crawlCmd.Flags().String("out", "", "CSV output path (stdout when empty)")
	crawlCmd.Flags().String("replay", "", "directory of saved HTML pages to replay instead of a live browser")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
