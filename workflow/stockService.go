package workflow

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mmdatafocus/ims_backend/workflow")

// StockService owns every write to ledger entries, incoming records and orders.
// Each write path takes the stock key lock first, then runs in one store transaction.
type StockService struct {
	Store   models.StockStore
	Locker  utils.KeyLocker
	Logger  *logrus.Logger
	Metrics *StockMetrics

	LockBackend             string
	LockWaitTimeout         time.Duration
	StrictInvariants        bool
	ReleaseOnIncomingReject bool
	Now                     func() time.Time
}

func NewStockService(store models.StockStore, locker utils.KeyLocker, logger *logrus.Logger, metrics *StockMetrics) *StockService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &StockService{
		Store:                   store,
		Locker:                  locker,
		Logger:                  logger,
		Metrics:                 metrics,
		LockBackend:             config.LockBackend(),
		LockWaitTimeout:         config.LockWaitTimeout(),
		StrictInvariants:        config.StrictInvariants(),
		ReleaseOnIncomingReject: config.ReleaseBlockedOnIncomingReject(),
		Now:                     func() time.Time { return time.Now().UTC() },
	}
}

func (s *StockService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func errorKindLabel(err error) string {
	return string(models.KindOf(err))
}

func (s *StockService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// withKeyLock runs fn while holding key. Waiting is bounded by LockWaitTimeout when set.
func (s *StockService) withKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	waitCtx := ctx
	if s.LockWaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.LockWaitTimeout)
		defer cancel()
	}
	start := time.Now()
	release, err := s.Locker.Acquire(waitCtx, key)
	s.Metrics.ObserveLockWait(s.LockBackend, time.Since(start), err)
	if err != nil {
		if errors.Is(err, utils.ErrLockTimeout) {
			return models.WrapStockError(models.ErrKindLockTimeout, err, "stock %s is busy, retry later", key)
		}
		return err
	}
	defer release()
	return fn(ctx)
}

// inTx runs fn in one store transaction. With StrictInvariants every saved ledger entry,
// incoming record and order is checked before it is written.
func (s *StockService) inTx(ctx context.Context, fn func(tx models.StockTx) error) error {
	return s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		if s.StrictInvariants {
			tx = &checkedTx{StockTx: tx}
		}
		return fn(tx)
	})
}

type checkedTx struct {
	models.StockTx
}

func (t *checkedTx) SaveLedgerEntry(e *models.ColorStock) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return t.StockTx.SaveLedgerEntry(e)
}

func (t *checkedTx) SaveIncoming(r *models.IncomingAllocation) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return t.StockTx.SaveIncoming(r)
}

func (t *checkedTx) SaveOrder(o *models.CustomerOrder) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return t.StockTx.SaveOrder(o)
}

func appendEvent(ctx context.Context, tx models.StockTx, eventType models.StockEventType, aggregateType string, aggregateId string, lockKey string, payload any) error {
	event, err := models.NewStockEvent(ctx, eventType, aggregateType, aggregateId, lockKey, payload)
	if err != nil {
		return err
	}
	return tx.AppendEvent(event)
}

// vehicleBranch returns the branch that owns vehicleId; stock keys are scoped by it.
func (s *StockService) vehicleBranch(ctx context.Context, vehicleId string) (string, error) {
	var branchId string
	err := s.Store.RunInTransaction(ctx, func(tx models.StockTx) error {
		vehicle, err := tx.GetVehicle(vehicleId)
		if err != nil {
			return err
		}
		branchId = vehicle.BranchId
		return nil
	})
	return branchId, err
}

// withKeyLocks holds several keys at once. Keys are taken in sorted order so two callers
// sharing keys cannot deadlock.
func (s *StockService) withKeyLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	var run func(i int, ctx context.Context) error
	run = func(i int, ctx context.Context) error {
		if i == len(sorted) {
			return fn(ctx)
		}
		return s.withKeyLock(ctx, sorted[i], func(ctx context.Context) error {
			return run(i+1, ctx)
		})
	}
	return run(0, ctx)
}

// logOutcome logs a finished write. Rule rejections are warnings, anything else is an error.
func (s *StockService) logOutcome(ctx context.Context, funcName string, fields logrus.Fields, err error) {
	if s.Logger == nil {
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = correlationId
	}
	if path, ok := utils.GetRequestPathFromContext(ctx); ok {
		fields["path"] = path
	}
	fields["username"] = utils.GetUsernameOrSystem(ctx)
	fields["funcName"] = funcName
	switch {
	case err == nil:
		s.Logger.WithFields(fields).Info(funcName + " succeeded")
	case errors.Is(err, models.ErrInvariantViolation):
		config.LogError(s.Logger, "workflow", funcName, "stock invariant violated", fields, err)
	case models.KindOf(err) != "":
		fields["kind"] = string(models.KindOf(err))
		s.Logger.WithFields(fields).Warn(err.Error())
	default:
		config.LogError(s.Logger, "workflow", funcName, "stock write failed", fields, err)
	}
}
