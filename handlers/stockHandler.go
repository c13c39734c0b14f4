package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/models/reports"
	"github.com/mmdatafocus/ims_backend/workflow"
)

type StockHandler struct {
	Service *workflow.StockService
}

func NewStockHandler(service *workflow.StockService) *StockHandler {
	return &StockHandler{Service: service}
}

func (h *StockHandler) Register(r gin.IRouter) {
	r.POST("/branches", h.createBranch)
	r.GET("/branches", h.listBranches)
	r.DELETE("/branches/:id", h.deleteBranch)

	r.POST("/vehicles", h.addVehicle)
	r.GET("/vehicles", h.listVehicles)
	r.GET("/vehicles/:id", h.getVehicle)
	r.DELETE("/vehicles/:id", h.deleteVehicle)
	r.DELETE("/vehicles/:id/variants/:variantId", h.deleteVariant)
	r.PUT("/vehicles/:id/variants/:variantId/colors/:color/stock", h.adjustLedgerStock)

	r.POST("/allocations", h.allocate)
	r.POST("/allocations/deduct", h.deductDirect)

	r.POST("/orders", h.createOrder)
	r.GET("/orders", h.listOrders)
	r.GET("/orders/:id", h.getOrder)
	r.PATCH("/orders/:id", h.updateOrder)
	r.PUT("/orders/:id/quantity", h.updateOrderQuantity)
	r.PUT("/orders/:id/status", h.setOrderStatus)
	r.PUT("/orders/:id/finance-status", h.setFinanceStatus)
	r.DELETE("/orders/:id", h.deleteOrder)

	r.POST("/incoming", h.createIncoming)
	r.GET("/incoming", h.listIncoming)
	r.GET("/incoming/:id", h.getIncoming)
	r.PATCH("/incoming/:id", h.updateIncoming)
	r.PUT("/incoming/:id/status", h.transitionIncoming)
	r.DELETE("/incoming/:id", h.deleteIncoming)

	r.GET("/stock/reconcile", h.reconcile)
	r.GET("/reports/stock.xlsx", h.stockReport)
}

func (h *StockHandler) createBranch(c *gin.Context) {
	var input models.NewBranch
	if err := c.ShouldBindJSON(&input); err != nil {
		writeBindError(c, err)
		return
	}
	branch, err := h.Service.CreateBranch(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

func (h *StockHandler) listBranches(c *gin.Context) {
	branches, err := h.Service.ListBranches(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, branches)
}

func (h *StockHandler) deleteBranch(c *gin.Context) {
	summary, err := h.Service.CascadeDeleteBranch(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *StockHandler) addVehicle(c *gin.Context) {
	var input models.NewVehicle
	if err := c.ShouldBindJSON(&input); err != nil {
		writeBindError(c, err)
		return
	}
	vehicle, err := h.Service.AddVehicle(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, vehicle)
}

func (h *StockHandler) listVehicles(c *gin.Context) {
	vehicles, err := h.Service.ListVehicles(c.Request.Context(), c.Query("branch_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vehicles)
}

func (h *StockHandler) getVehicle(c *gin.Context) {
	vehicle, err := h.Service.GetVehicle(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vehicle)
}

func (h *StockHandler) deleteVehicle(c *gin.Context) {
	summary, err := h.Service.CascadeDeleteVehicle(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *StockHandler) deleteVariant(c *gin.Context) {
	summary, err := h.Service.CascadeDeleteVariant(c.Request.Context(), c.Param("id"), c.Param("variantId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type ledgerStockRequest struct {
	Stock *int `json:"stock" binding:"required"`
}

func (h *StockHandler) adjustLedgerStock(c *gin.Context) {
	var req ledgerStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	entry, err := h.Service.AdjustLedgerStock(c.Request.Context(), c.Param("id"), c.Param("variantId"), c.Param("color"), *req.Stock)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *StockHandler) allocate(c *gin.Context) {
	var req workflow.AllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	alloc, err := h.Service.Allocate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alloc)
}

type deductRequest struct {
	VehicleId string `json:"vehicle_id" binding:"required"`
	VariantId string `json:"variant_id" binding:"required"`
	Color     string `json:"color" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

func (h *StockHandler) deductDirect(c *gin.Context) {
	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	if err := h.Service.DeductDirect(c.Request.Context(), req.VehicleId, req.VariantId, req.Color, req.Quantity); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StockHandler) reconcile(c *gin.Context) {
	report, err := h.Service.Reconcile(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusConflict
	}
	c.JSON(status, report)
}

func (h *StockHandler) stockReport(c *gin.Context) {
	snapshot, err := h.Service.StockSnapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	filename := "stock-" + snapshot.GeneratedAt.Format(time.DateOnly) + ".xlsx"
	c.Header("Content-Type", reports.StockWorkbookContentType)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)
	if err := reports.WriteStockWorkbook(c.Writer, snapshot); err != nil {
		_ = c.Error(err)
	}
}
