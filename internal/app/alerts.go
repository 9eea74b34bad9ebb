package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Alerts prints recent alert audit rows.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tBase\tDirection\tChange%\tStreak\tMessageID")

	for _, record := range alerts {
		messageID := "-"
		if record.MessageID != nil {
			messageID = fmt.Sprintf("%d", *record.MessageID)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			record.CreatedAt.UTC().Format(time.RFC3339),
			record.Symbol,
			record.BaseAsset,
			record.Direction,
			record.ChangePct.StringFixed(2),
			record.StreakCount,
			messageID,
		)
	}

	writer.Flush()
	return nil
}
