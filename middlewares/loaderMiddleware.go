package middlewares

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/ims_backend/models"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// StockReader is the batch read side the loaders are built on.
type StockReader interface {
	FindVehicles(ctx context.Context, ids []string) (map[string]*models.Vehicle, error)
	FindBranches(ctx context.Context, ids []string) (map[string]*models.Branch, error)
	FindIncoming(ctx context.Context, ids []string) (map[string]*models.IncomingAllocation, error)
	FindOrdersByIncoming(ctx context.Context, incomingIds []string) (map[string][]models.CustomerOrder, error)
}

// Loaders batch the lookups one GraphQL request makes while resolving order and incoming relations.
type Loaders struct {
	VehicleLoader          *dataloader.Loader[string, *models.Vehicle]
	BranchLoader           *dataloader.Loader[string, *models.Branch]
	IncomingLoader         *dataloader.Loader[string, *models.IncomingAllocation]
	OrdersByIncomingLoader *dataloader.Loader[string, []models.CustomerOrder]
}

func NewLoaders(reader StockReader) *Loaders {
	return NewLoadersWithWait(reader, time.Millisecond)
}

// NewLoadersWithWait collects keys for wait before each batch read.
func NewLoadersWithWait(reader StockReader, wait time.Duration) *Loaders {
	return &Loaders{
		VehicleLoader: dataloader.NewBatchedLoader(
			batchByID(reader.FindVehicles, "vehicle"),
			dataloader.WithWait[string, *models.Vehicle](wait)),
		BranchLoader: dataloader.NewBatchedLoader(
			batchByID(reader.FindBranches, "branch"),
			dataloader.WithWait[string, *models.Branch](wait)),
		IncomingLoader: dataloader.NewBatchedLoader(
			batchByID(reader.FindIncoming, "incoming allocation"),
			dataloader.WithWait[string, *models.IncomingAllocation](wait)),
		OrdersByIncomingLoader: dataloader.NewBatchedLoader(
			getOrdersByIncoming(reader),
			dataloader.WithWait[string, []models.CustomerOrder](wait)),
	}
}

// batchByID turns a map-returning batch read into loader results in key order.
// A key with no row resolves to a NotFound error.
func batchByID[T any](find func(ctx context.Context, ids []string) (map[string]*T, error), entity string) dataloader.BatchFunc[string, *T] {
	return func(ctx context.Context, ids []string) []*dataloader.Result[*T] {
		found, err := find(ctx, ids)
		if err != nil {
			return handleError[*T](len(ids), err)
		}
		results := make([]*dataloader.Result[*T], 0, len(ids))
		for _, id := range ids {
			if v, ok := found[id]; ok {
				results = append(results, &dataloader.Result[*T]{Data: v})
				continue
			}
			results = append(results, &dataloader.Result[*T]{Error: models.NotFoundError(entity, id)})
		}
		return results
	}
}

func getOrdersByIncoming(reader StockReader) dataloader.BatchFunc[string, []models.CustomerOrder] {
	return func(ctx context.Context, ids []string) []*dataloader.Result[[]models.CustomerOrder] {
		found, err := reader.FindOrdersByIncoming(ctx, ids)
		if err != nil {
			return handleError[[]models.CustomerOrder](len(ids), err)
		}
		results := make([]*dataloader.Result[[]models.CustomerOrder], 0, len(ids))
		for _, id := range ids {
			results = append(results, &dataloader.Result[[]models.CustomerOrder]{Data: found[id]})
		}
		return results
	}
}

// LoaderMiddleware attaches fresh loaders to every request. reader may return nil while the
// service is still starting; the request then goes through without loaders.
func LoaderMiddleware(reader func() StockReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r := reader(); r != nil {
			c.Request = c.Request.WithContext(WithLoaders(c.Request.Context(), NewLoaders(r)))
		}
		c.Next()
	}
}

func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

func For(ctx context.Context) (*Loaders, error) {
	loaders, ok := ctx.Value(loadersKey).(*Loaders)
	if !ok || loaders == nil {
		return nil, errors.New("service not ready (loaders not initialized)")
	}
	return loaders, nil
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

func GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	loaders, err := For(ctx)
	if err != nil {
		return nil, err
	}
	return loaders.VehicleLoader.Load(ctx, id)()
}

func GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	loaders, err := For(ctx)
	if err != nil {
		return nil, err
	}
	return loaders.BranchLoader.Load(ctx, id)()
}

func GetIncoming(ctx context.Context, id string) (*models.IncomingAllocation, error) {
	loaders, err := For(ctx)
	if err != nil {
		return nil, err
	}
	return loaders.IncomingLoader.Load(ctx, id)()
}

func GetOrdersByIncoming(ctx context.Context, incomingId string) ([]models.CustomerOrder, error) {
	loaders, err := For(ctx)
	if err != nil {
		return nil, err
	}
	return loaders.OrdersByIncomingLoader.Load(ctx, incomingId)()
}
