// stock-reconcile checks every ledger entry, incoming record and order against each other and
// prints the report as JSON. It exits 2 when violations are found.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/stock-reconcile
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/mmdatafocus/ims_backend/workflow"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Optional: overall timeout")
	quiet := flag.Bool("quiet", false, "Only print violations")
	flag.Parse()

	if config.StoreBackend() == config.StoreBackendMemory {
		fmt.Fprintln(os.Stderr, "STORE_BACKEND=memory has nothing to reconcile; set STORE_BACKEND=mysql and DB_* env vars")
		os.Exit(1)
	}
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := workflow.NewStockStoreFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	service := workflow.NewStockService(store, utils.NewKeyMutex(), config.GetLogger(), nil)
	report, err := service.Reconcile(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
		os.Exit(1)
	}

	var out any = report
	if *quiet {
		out = report.Violations
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
		os.Exit(1)
	}
	if !report.OK() {
		fmt.Fprintf(os.Stderr, "%d violation(s) found\n", len(report.Violations))
		os.Exit(2)
	}
}
