// stock-report writes the current ledger, incoming registry and orders to an xlsx workbook and
// optionally uploads it to the GCS bucket named by GCS_BUCKET.
//
// Usage:
//
//	go run ./cmd/stock-report -out stock.xlsx
//	go run ./cmd/stock-report -upload reports/stock.xlsx
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/models/reports"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/mmdatafocus/ims_backend/workflow"
)

func main() {
	outPath := flag.String("out", "", "Optional: write the workbook to this file")
	objectName := flag.String("upload", "", "Optional: upload the workbook to GCS under this object name")
	timeout := flag.Duration("timeout", 5*time.Minute, "Optional: overall timeout")
	flag.Parse()

	if strings.TrimSpace(*outPath) == "" && strings.TrimSpace(*objectName) == "" {
		fmt.Fprintln(os.Stderr, "one of --out or --upload is required")
		os.Exit(1)
	}
	if config.StoreBackend() != config.StoreBackendMemory {
		config.ConnectDatabaseWithRetry()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := workflow.NewStockStoreFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	service := workflow.NewStockService(store, utils.NewKeyMutex(), config.GetLogger(), nil)
	snapshot, err := service.StockSnapshot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshot failed: %v\n", err)
		os.Exit(1)
	}

	var buf bytes.Buffer
	if err := reports.WriteStockWorkbook(&buf, snapshot); err != nil {
		fmt.Fprintf(os.Stderr, "write workbook: %v\n", err)
		os.Exit(1)
	}

	if p := strings.TrimSpace(*outPath); p != "" {
		if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", p, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (%d ledger entries, %d incoming, %d orders)\n", p, len(snapshot.Ledger), len(snapshot.Incoming), len(snapshot.Orders))
	}
	if name := strings.TrimSpace(*objectName); name != "" {
		url, err := utils.UploadToGCS(ctx, name, reports.StockWorkbookContentType, bytes.NewReader(buf.Bytes()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("uploaded", url)
	}
}
