package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
)

func (h *StockHandler) createIncoming(c *gin.Context) {
	var input models.NewIncomingAllocation
	if err := c.ShouldBindJSON(&input); err != nil {
		writeBindError(c, err)
		return
	}
	record, err := h.Service.CreateIncoming(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *StockHandler) listIncoming(c *gin.Context) {
	filter := models.IncomingFilter{
		BranchId:  c.Query("branch_id"),
		VehicleId: c.Query("vehicle_id"),
		VariantId: c.Query("variant_id"),
		Color:     utils.NormalizeKey(c.Query("color")),
	}
	if s := c.Query("status"); s != "" {
		status, err := models.ParseIncomingStatus(s)
		if err != nil {
			writeBindError(c, err)
			return
		}
		filter.Status = status
	}
	records, err := h.Service.ListIncoming(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *StockHandler) getIncoming(c *gin.Context) {
	record, err := h.Service.GetIncoming(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *StockHandler) updateIncoming(c *gin.Context) {
	var update models.IncomingUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		writeBindError(c, err)
		return
	}
	record, err := h.Service.UpdateIncoming(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

type incomingStatusRequest struct {
	Status  models.IncomingStatus `json:"status" binding:"required"`
	Payment models.PaymentStatus  `json:"payment"`
}

func (h *StockHandler) transitionIncoming(c *gin.Context) {
	var req incomingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	record, err := h.Service.TransitionIncoming(c.Request.Context(), c.Param("id"), req.Status, req.Payment)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *StockHandler) deleteIncoming(c *gin.Context) {
	if err := h.Service.DeleteIncoming(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
