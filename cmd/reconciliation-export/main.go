// reconciliation-export writes accepted-with-discrepancy reconciliations to an xlsx file.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/reconciliation-export --from=2024-06-01 --to=2024-06-30
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/mmdatafocus/transfer_backend/utils"
)

func main() {
	receiverID := flag.Int("receiver", 0, "Optional: only reconciliations received by this party id")
	from := flag.String("from", "", "Optional: first acceptance day (YYYY-MM-DD)")
	to := flag.String("to", "", "Optional: last acceptance day, inclusive (YYYY-MM-DD)")
	out := flag.String("out", "reconciliations.xlsx", "Output file")
	flag.Parse()

	filter := models.ReconciliationFilter{ReceiverId: *receiverID}
	if v := strings.TrimSpace(*from); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			fmt.Fprintln(os.Stderr, "--from must be YYYY-MM-DD")
			os.Exit(1)
		}
		filter.From = &t
	}
	if v := strings.TrimSpace(*to); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			fmt.Fprintln(os.Stderr, "--to must be YYYY-MM-DD")
			os.Exit(1)
		}
		end := t.AddDate(0, 0, 1)
		filter.To = &end
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	ctx := context.Background()
	records, err := models.ListReconciliationRecords(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list reconciliations: %v\n", err)
		os.Exit(1)
	}

	ids := make([]int, 0, len(records)*2)
	for _, rec := range records {
		ids = append(ids, rec.SenderId, rec.ReceiverId)
	}
	parties, err := models.GetPartiesByIds(ctx, utils.UniqueSlice(ids))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load parties: %v\n", err)
		os.Exit(1)
	}
	names := make(map[int]string, len(parties))
	for _, p := range parties {
		names[p.ID] = p.Name
	}

	headings, rows := models.ReconciliationExportRows(records, func(id int) string {
		if name, ok := names[id]; ok {
			return name
		}
		return strconv.Itoa(id)
	})
	f, err := utils.NewSheetFile(headings, rows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build sheet: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := f.SaveAs(*out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save %s: %v\n", *out, err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d reconciliations (%d rows) to %s\n", len(records), len(rows), *out)
}
