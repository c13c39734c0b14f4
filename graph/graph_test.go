package graph_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ims_backend/graph"
	"github.com/mmdatafocus/ims_backend/middlewares"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/mmdatafocus/ims_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader counts the batch reads the loaders issue.
type countingReader struct {
	*workflow.StockService
	vehicleCalls atomic.Int32
	branchCalls  atomic.Int32
}

func (r *countingReader) FindVehicles(ctx context.Context, ids []string) (map[string]*models.Vehicle, error) {
	r.vehicleCalls.Add(1)
	return r.StockService.FindVehicles(ctx, ids)
}

func (r *countingReader) FindBranches(ctx context.Context, ids []string) (map[string]*models.Branch, error) {
	r.branchCalls.Add(1)
	return r.StockService.FindBranches(ctx, ids)
}

type graphFixture struct {
	t         *testing.T
	router    *gin.Engine
	svc       *workflow.StockService
	reader    *countingReader
	branchId  string
	vehicleId string
	variantId string
}

func newGraphFixture(t *testing.T, stock int) *graphFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := &workflow.StockService{
		Store:            models.NewMemoryStore(),
		Locker:           utils.NewKeyMutex(),
		Logger:           logger,
		LockBackend:      "memory",
		LockWaitTimeout:  time.Second,
		StrictInvariants: true,
	}
	reader := &countingReader{StockService: svc}

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.SessionMiddleware())
	srv := graph.NewHandler(&graph.Resolver{Service: svc})
	r.POST("/query", func(c *gin.Context) {
		// a wide batch window keeps every sibling lookup in one read
		loaders := middlewares.NewLoadersWithWait(reader, 20*time.Millisecond)
		c.Request = c.Request.WithContext(middlewares.WithLoaders(c.Request.Context(), loaders))
		srv.ServeHTTP(c.Writer, c.Request)
	})

	ctx := context.Background()
	branch, err := svc.CreateBranch(ctx, models.NewBranch{Name: "Pune Central", Contact: "9876543210"})
	require.NoError(t, err)
	vehicle, err := svc.AddVehicle(ctx, models.NewVehicle{
		BranchId: branch.ID,
		Brand:    "Tata",
		Model:    "Nexon",
		Variant: models.NewVariant{
			Name:   "XZ Plus",
			Colors: []models.NewColorStock{{Color: "Red", Stock: stock}},
		},
	})
	require.NoError(t, err)
	return &graphFixture{
		t:         t,
		router:    r,
		svc:       svc,
		reader:    reader,
		branchId:  branch.ID,
		vehicleId: vehicle.ID,
		variantId: vehicle.Variants[0].ID,
	}
}

type gqlResponse struct {
	Data   map[string]any `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Path       []any          `json:"path"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func (f *graphFixture) query(query string, vars map[string]any) gqlResponse {
	f.t.Helper()
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	require.NoError(f.t, err)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-user", "graph-tester")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())

	var resp gqlResponse
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func (f *graphFixture) orderInput(qty int) map[string]any {
	return map[string]any{
		"branchId":     f.branchId,
		"vehicleId":    f.vehicleId,
		"variantId":    f.variantId,
		"color":        "red",
		"customer":     map[string]any{"name": "Asha Kulkarni", "phone": "9876543210"},
		"financeType":  "Cash",
		"totalAmount":  "₹ 8,45,000",
		"expectedDate": "2025-02-01",
		"totalCount":   qty,
	}
}

const createOrderMutation = `mutation($input: NewOrder!) {
  createOrder(input: $input) {
    id
    totalCount
    totalAmount
    financeType
    orderStatus
    financeStatus
    allocationSource
    expectedDate
    createdBy
    vehicleStock { id stock available }
    mddpStock { id stock available }
    branch { name }
    vehicle { brand model }
    variant { name colors { color stock blockedCount available } }
  }
}`

func TestCreateOrderResolvesRelations(t *testing.T) {
	f := newGraphFixture(t, 10)
	resp := f.query(createOrderMutation, map[string]any{"input": f.orderInput(3)})
	require.Empty(t, resp.Errors)

	order := resp.Data["createOrder"].(map[string]any)
	assert.NotEmpty(t, order["id"])
	assert.EqualValues(t, 3, order["totalCount"])
	assert.Equal(t, "845000", order["totalAmount"])
	assert.Equal(t, "Cash", order["financeType"])
	assert.Equal(t, "Pending", order["orderStatus"])
	assert.Equal(t, "vehicle", order["allocationSource"])
	assert.Equal(t, "2025-02-01T00:00:00Z", order["expectedDate"])
	assert.Equal(t, "graph-tester", order["createdBy"])
	assert.Equal(t, map[string]any{"id": nil, "stock": float64(0), "available": false}, order["mddpStock"])
	assert.EqualValues(t, 3, order["vehicleStock"].(map[string]any)["stock"])
	assert.Equal(t, "Pune Central", order["branch"].(map[string]any)["name"])
	assert.Equal(t, "Nexon", order["vehicle"].(map[string]any)["model"])

	colors := order["variant"].(map[string]any)["colors"].([]any)
	require.Len(t, colors, 1)
	assert.Equal(t, map[string]any{"color": "red", "stock": float64(10), "blockedCount": float64(3), "available": float64(7)}, colors[0])
}

func TestOrderListBatchesRelationLookups(t *testing.T) {
	f := newGraphFixture(t, 20)
	for i := 0; i < 6; i++ {
		resp := f.query(`mutation($input: NewOrder!) { createOrder(input: $input) { id } }`, map[string]any{"input": f.orderInput(2)})
		require.Empty(t, resp.Errors)
	}
	f.reader.vehicleCalls.Store(0)
	f.reader.branchCalls.Store(0)

	resp := f.query(`query($branchId: ID!) {
  orders(filter: { branchId: $branchId, orderStatus: Pending }) {
    id
    vehicle { brand branch { name } }
    branch { name }
  }
}`, map[string]any{"branchId": f.branchId})
	require.Empty(t, resp.Errors)

	orders := resp.Data["orders"].([]any)
	require.Len(t, orders, 6)
	for _, o := range orders {
		order := o.(map[string]any)
		assert.Equal(t, "Tata", order["vehicle"].(map[string]any)["brand"])
		assert.Equal(t, "Pune Central", order["branch"].(map[string]any)["name"])
	}
	assert.Equal(t, int32(1), f.reader.vehicleCalls.Load())
	// the order and the vehicle branch lookups are for the same key and hit the loader cache
	assert.LessOrEqual(t, f.reader.branchCalls.Load(), int32(2))
}

func TestTransitionIncomingMovesHoldingOrders(t *testing.T) {
	f := newGraphFixture(t, 0)
	resp := f.query(`mutation($input: NewIncoming!) { createIncoming(input: $input) { id status payment stock } }`, map[string]any{
		"input": map[string]any{
			"vehicleId":    f.vehicleId,
			"variantId":    f.variantId,
			"color":        "Red",
			"stock":        6,
			"expectedDate": "2025-01-15",
			"status":       "Requested",
			"payment":      "Pending",
		},
	})
	require.Empty(t, resp.Errors)
	incoming := resp.Data["createIncoming"].(map[string]any)
	incomingId := incoming["id"].(string)
	assert.Equal(t, "Requested", incoming["status"])

	resp = f.query(createOrderMutation, map[string]any{"input": f.orderInput(4)})
	require.Empty(t, resp.Errors)
	order := resp.Data["createOrder"].(map[string]any)
	assert.Equal(t, "mddp", order["allocationSource"])
	assert.Equal(t, incomingId, order["mddpStock"].(map[string]any)["id"])

	const transition = `mutation($id: ID!, $payment: PaymentStatus) {
  transitionIncoming(id: $id, status: Completed, payment: $payment) {
    status
    receivedCount
    stock
    blockedCount
    orders { totalCount vehicleStock { stock available } mddpStock { stock available } }
  }
}`
	resp = f.query(transition, map[string]any{"id": incomingId})
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "PaymentIncomplete", resp.Errors[0].Extensions["code"])
	assert.Equal(t, false, resp.Errors[0].Extensions["retryable"])
	assert.Equal(t, []any{"transitionIncoming"}, resp.Errors[0].Path)
	assert.Nil(t, resp.Data["transitionIncoming"])

	resp = f.query(transition, map[string]any{"id": incomingId, "payment": "Completed"})
	require.Empty(t, resp.Errors)
	done := resp.Data["transitionIncoming"].(map[string]any)
	assert.Equal(t, "Completed", done["status"])
	assert.EqualValues(t, 6, done["receivedCount"])
	assert.EqualValues(t, 0, done["stock"])
	assert.EqualValues(t, 0, done["blockedCount"])

	orders := done["orders"].([]any)
	require.Len(t, orders, 1)
	moved := orders[0].(map[string]any)
	assert.Equal(t, map[string]any{"stock": float64(4), "available": true}, moved["vehicleStock"])
	assert.Equal(t, map[string]any{"stock": float64(0), "available": false}, moved["mddpStock"])
}

func TestOrderStatusMutationsAndErrors(t *testing.T) {
	f := newGraphFixture(t, 5)
	resp := f.query(`mutation($input: NewOrder!) { createOrder(input: $input) { id } }`, map[string]any{"input": f.orderInput(2)})
	require.Empty(t, resp.Errors)
	orderId := resp.Data["createOrder"].(map[string]any)["id"].(string)

	resp = f.query(`mutation($id: ID!) { setOrderStatus(id: $id, status: Delivered) { orderStatus } }`, map[string]any{"id": orderId})
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "InvalidStateTransition", resp.Errors[0].Extensions["code"])

	resp = f.query(`mutation($id: ID!) { updateOrder(id: $id, input: { totalCount: 0 }) { totalCount } }`, map[string]any{"id": orderId})
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "InvalidInput", resp.Errors[0].Extensions["code"])

	resp = f.query(`mutation($id: ID!) { updateOrder(id: $id, input: { totalCount: 3 }) { totalCount vehicleStock { stock } } }`, map[string]any{"id": orderId})
	require.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{"totalCount": float64(3), "vehicleStock": map[string]any{"stock": float64(3)}}, resp.Data["updateOrder"])

	resp = f.query(`mutation($id: ID!) {
  finance: setFinanceStatus(id: $id, status: Completed) { financeStatus }
  dispatch: setOrderStatus(id: $id, status: Dispatched) { orderStatus __typename }
}`, map[string]any{"id": orderId})
	require.Empty(t, resp.Errors)
	assert.Equal(t, "Completed", resp.Data["finance"].(map[string]any)["financeStatus"])
	assert.Equal(t, map[string]any{"orderStatus": "Dispatched", "__typename": "Order"}, resp.Data["dispatch"])

	resp = f.query(`query($id: ID!) { order(id: $id) { id } }`, map[string]any{"id": "missing"})
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "NotFound", resp.Errors[0].Extensions["code"])
	assert.Nil(t, resp.Data["order"])

	resp = f.query(`mutation($input: NewOrder!) { createOrder(input: $input) { id } }`, map[string]any{"input": f.orderInput(3)})
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "InsufficientStock", resp.Errors[0].Extensions["code"])
}

func TestQueriesListCatalog(t *testing.T) {
	f := newGraphFixture(t, 4)
	resp := f.query(`query($branchId: ID!) {
  branches { id name contact }
  vehicles(branchId: $branchId) { brand branch { name } variants { name features price colors { color stock } } }
  incomingRecords { id }
}`, map[string]any{"branchId": f.branchId})
	require.Empty(t, resp.Errors)

	branches := resp.Data["branches"].([]any)
	require.Len(t, branches, 1)
	assert.Equal(t, f.branchId, branches[0].(map[string]any)["id"])

	vehicles := resp.Data["vehicles"].([]any)
	require.Len(t, vehicles, 1)
	vehicle := vehicles[0].(map[string]any)
	assert.Equal(t, "Pune Central", vehicle["branch"].(map[string]any)["name"])
	variant := vehicle["variants"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{}, variant["features"])
	assert.Equal(t, "0", variant["price"])
	assert.Equal(t, []any{map[string]any{"color": "red", "stock": float64(4)}}, variant["colors"])
	assert.Equal(t, []any{}, resp.Data["incomingRecords"])
}
