// seed-dev creates a branch with one vehicle, one variant, its colors and an incoming
// allocation, so a fresh database has something to allocate against.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev \
//	  -branch "Pune Central" -brand Tata -model Nexon -variant "XZ Plus" -colors "white:5,red:2" -incoming 4
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/mmdatafocus/ims_backend/workflow"
	"github.com/shopspring/decimal"
)

func main() {
	branchName := flag.String("branch", "Dev Branch", "Branch name (created if missing)")
	brand := flag.String("brand", "Tata", "Vehicle brand")
	model := flag.String("model", "Nexon", "Vehicle model")
	variantName := flag.String("variant", "XZ Plus", "Variant name")
	price := flag.String("price", "1150000", "Variant ex-showroom price")
	colorsFlag := flag.String("colors", "white:5,red:2", "Comma-separated color:stock pairs")
	incoming := flag.Int("incoming", 4, "Incoming allocation quantity for the first color (0 to skip)")
	expectedDays := flag.Int("expected-days", 14, "Days until the incoming allocation arrives")
	flag.Parse()

	colors, err := parseColors(*colorsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --colors: %v\n", err)
		os.Exit(1)
	}
	variantPrice, err := decimal.NewFromString(*price)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --price: %v\n", err)
		os.Exit(1)
	}

	if config.StoreBackend() != config.StoreBackendMemory {
		config.ConnectDatabaseWithRetry()
		db := config.GetDB()
		if db == nil {
			fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
			os.Exit(1)
		}
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := utils.SetUsernameInContext(context.Background(), "seed-dev")
	store, err := workflow.NewStockStoreFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	service := workflow.NewStockService(store, utils.NewKeyMutex(), config.GetLogger(), nil)

	branch, err := findOrCreateBranch(ctx, service, *branchName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "branch: %v\n", err)
		os.Exit(1)
	}

	vehicle, err := service.AddVehicle(ctx, models.NewVehicle{
		BranchId: branch.ID,
		Brand:    *brand,
		Model:    *model,
		Variant: models.NewVariant{
			Name:   *variantName,
			Price:  variantPrice,
			Colors: colors,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vehicle: %v\n", err)
		os.Exit(1)
	}
	variant := vehicle.Variants[len(vehicle.Variants)-1]
	fmt.Printf("vehicle %s variant %s (%d colors) on branch %s\n", vehicle.ID, variant.ID, len(variant.Colors), branch.ID)

	if *incoming > 0 {
		record, err := service.CreateIncoming(ctx, models.NewIncomingAllocation{
			VehicleId:    vehicle.ID,
			VariantId:    variant.ID,
			Color:        colors[0].Color,
			Stock:        *incoming,
			ExpectedDate: time.Now().UTC().AddDate(0, 0, *expectedDays),
			Status:       models.IncomingStatusApproved,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "incoming: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("incoming %s: %d x %s expected %s\n", record.ID, record.Stock, record.Color, record.ExpectedDate.Format(time.DateOnly))
	}
}

func parseColors(raw string) ([]models.NewColorStock, error) {
	var out []models.NewColorStock
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, qty, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%q is not color:stock", part)
		}
		stock, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		out = append(out, models.NewColorStock{Color: strings.TrimSpace(name), Stock: stock})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one color is required")
	}
	return out, nil
}

func findOrCreateBranch(ctx context.Context, service *workflow.StockService, name string) (*models.Branch, error) {
	branches, err := service.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	for i := range branches {
		if strings.EqualFold(branches[i].Name, strings.TrimSpace(name)) {
			return &branches[i], nil
		}
	}
	return service.CreateBranch(ctx, models.NewBranch{Name: name})
}
