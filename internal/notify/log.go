package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes deliveries to the log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLog() *LogNotifier {
	return &LogNotifier{logger: slog.Default()}
}

func (n *LogNotifier) ReportReady(ctx context.Context, d Delivery) error {
	n.logger.InfoContext(ctx, "report ready",
		"to", d.To,
		"restaurant", d.RestaurantName,
		"report_url", d.ReportURL,
		"dataset_url", d.DatasetURL,
	)
	return observe("log", nil)
}

func (n *LogNotifier) OrderReceived(ctx context.Context, o OrderNotice) error {
	n.logger.InfoContext(ctx, "order received", "order_id", o.OrderID, "email", o.Email, "url", o.RestaurantURL)
	return nil
}
