package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
)

func (h *StockHandler) createOrder(c *gin.Context) {
	var input models.NewCustomerOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		writeBindError(c, err)
		return
	}
	if input.BranchId == "" {
		if branchId, ok := utils.GetBranchIdFromContext(c.Request.Context()); ok {
			input.BranchId = branchId
		}
	}
	order, err := h.Service.CreateOrder(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *StockHandler) listOrders(c *gin.Context) {
	filter := models.OrderFilter{
		BranchId:   c.Query("branch_id"),
		VehicleId:  c.Query("vehicle_id"),
		VariantId:  c.Query("variant_id"),
		Color:      utils.NormalizeKey(c.Query("color")),
		IncomingId: c.Query("incoming_id"),
	}
	if s := c.Query("order_status"); s != "" {
		status, err := models.ParseOrderStatus(s)
		if err != nil {
			writeBindError(c, err)
			return
		}
		filter.OrderStatus = status
	}
	orders, err := h.Service.ListOrders(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *StockHandler) getOrder(c *gin.Context) {
	order, err := h.Service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *StockHandler) updateOrder(c *gin.Context) {
	var update models.OrderUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		writeBindError(c, err)
		return
	}
	order, err := h.Service.UpdateOrder(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type orderQuantityRequest struct {
	TotalCount int `json:"total_count" binding:"required"`
}

func (h *StockHandler) updateOrderQuantity(c *gin.Context) {
	var req orderQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	order, err := h.Service.UpdateOrderQuantity(c.Request.Context(), c.Param("id"), req.TotalCount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type orderStatusRequest struct {
	OrderStatus models.OrderStatus `json:"order_status" binding:"required"`
}

func (h *StockHandler) setOrderStatus(c *gin.Context) {
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	order, err := h.Service.SetOrderStatus(c.Request.Context(), c.Param("id"), req.OrderStatus)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type financeStatusRequest struct {
	FinanceStatus models.FinanceStatus `json:"finance_status" binding:"required"`
}

func (h *StockHandler) setFinanceStatus(c *gin.Context) {
	var req financeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	order, err := h.Service.SetFinanceStatus(c.Request.Context(), c.Param("id"), req.FinanceStatus)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *StockHandler) deleteOrder(c *gin.Context) {
	if err := h.Service.DeleteOrder(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
