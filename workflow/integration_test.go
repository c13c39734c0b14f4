package workflow_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/mmdatafocus/ims_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs the allocation paths against MySQL with each distributed lock backend.
func TestStockServiceOnMySQL(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	ctx := utils.SetUsernameInContext(context.Background(), "integration")

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })
	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ims_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(ctx)
	db := config.GetDB()
	require.NotNil(t, db)
	require.NoError(t, models.MigrateTable(db))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mysqlLocker, err := utils.NewMySQLKeyLocker(db, 5*time.Second, logger)
	require.NoError(t, err)

	lockers := map[string]utils.KeyLocker{
		config.LockBackendMySQL: mysqlLocker,
		config.LockBackendRedis: utils.NewRedisKeyLocker(config.GetRedisLock(), 10*time.Second, logger),
	}
	for backend, locker := range lockers {
		t.Run(backend, func(t *testing.T) {
			svc := &workflow.StockService{
				Store:            models.NewGormStore(db),
				Locker:           locker,
				Logger:           logger,
				LockBackend:      backend,
				LockWaitTimeout:  10 * time.Second,
				StrictInvariants: true,
				Now:              func() time.Time { return time.Now().UTC() },
			}
			exerciseStockService(t, ctx, svc, backend)
		})
	}

	t.Run("redis lease outlives hold", func(t *testing.T) {
		locker := utils.NewRedisKeyLocker(config.GetRedisLock(), time.Second, logger)
		release, err := locker.Acquire(ctx, "stock:lease")
		require.NoError(t, err)

		// hold well past the lease; the refresh loop must keep the key ours
		time.Sleep(2500 * time.Millisecond)
		waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		_, err = locker.Acquire(waitCtx, "stock:lease")
		cancel()
		assert.ErrorIs(t, err, utils.ErrLockTimeout)

		release()
		waitCtx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		again, err := locker.Acquire(waitCtx, "stock:lease")
		require.NoError(t, err)
		again()
	})

	t.Run("mysql lock without deadline waits", func(t *testing.T) {
		locker, err := utils.NewMySQLKeyLocker(db, 0, logger)
		require.NoError(t, err)
		release, err := locker.Acquire(ctx, "stock:forever")
		require.NoError(t, err)

		got := make(chan error, 1)
		go func() {
			rel, err := locker.Acquire(ctx, "stock:forever")
			if err == nil {
				rel()
			}
			got <- err
		}()
		select {
		case err := <-got:
			t.Fatalf("second acquire returned early: %v", err)
		case <-time.After(1500 * time.Millisecond):
		}
		release()
		require.NoError(t, <-got)
	})
}

func exerciseStockService(t *testing.T, ctx context.Context, svc *workflow.StockService, backend string) {
	branch, err := svc.CreateBranch(ctx, models.NewBranch{Name: "Branch " + backend})
	require.NoError(t, err)
	vehicle, err := svc.AddVehicle(ctx, models.NewVehicle{
		BranchId: branch.ID,
		Brand:    "Tata",
		Model:    "Nexon",
		Variant: models.NewVariant{
			Name:   "XZ",
			Colors: []models.NewColorStock{{Color: "Red", Stock: 12}},
		},
	})
	require.NoError(t, err)
	variantId := vehicle.Variants[0].ID

	record, err := svc.CreateIncoming(ctx, models.NewIncomingAllocation{
		VehicleId:    vehicle.ID,
		VariantId:    variantId,
		Color:        "Red",
		Stock:        10,
		ExpectedDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:       models.IncomingStatusApproved,
		Payment:      models.PaymentStatusCompleted,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateOrder(ctx, models.NewCustomerOrder{
				BranchId:     branch.ID,
				VehicleId:    vehicle.ID,
				VariantId:    variantId,
				Color:        "red",
				Customer:     models.CustomerDetails{Name: "Buyer", Phone: "9876543210"},
				ExpectedDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
				TotalCount:   5,
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	vehicle, err = svc.GetVehicle(ctx, vehicle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StockCounter{Stock: 12, BlockedCount: 12}, vehicle.Variants[0].Colors[0].StockCounter)
	got, err := svc.GetIncoming(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.BlockedCount)

	_, err = svc.TransitionIncoming(ctx, record.ID, models.IncomingStatusCompleted, "")
	require.NoError(t, err)

	orders, err := svc.ListOrders(ctx, models.OrderFilter{BranchId: branch.ID})
	require.NoError(t, err)
	for _, o := range orders {
		assert.Zero(t, o.MddpStock.Stock)
		_, err := svc.SetOrderStatus(ctx, o.ID, models.OrderStatusDispatched)
		require.NoError(t, err)
		_, err = svc.SetOrderStatus(ctx, o.ID, models.OrderStatusDelivered)
		require.NoError(t, err)
	}

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "violations: %+v", report.Violations)

	summary, err := svc.CascadeDeleteBranch(ctx, branch.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.DeletedOrders)
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ims-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ims-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ims_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
