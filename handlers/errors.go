package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/sirupsen/logrus"
)

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch models.KindOf(err) {
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindInvalidInput:
		return http.StatusBadRequest
	case models.ErrKindExpectedDateConflict, models.ErrKindPaymentIncomplete:
		return http.StatusUnprocessableEntity
	case models.ErrKindInsufficientStock, models.ErrKindInvalidStateTransition,
		models.ErrKindIncomingNotArrived, models.ErrKindOverRelease, models.ErrKindConcurrentModification:
		return http.StatusConflict
	case models.ErrKindLockTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	body := gin.H{
		"error":     err.Error(),
		"kind":      string(models.KindOf(err)),
		"retryable": models.IsRetryable(err),
	}
	if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
		body["correlation_id"] = cid
	}
	if status == http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "handlers", c.FullPath(), "request failed", logrus.Fields{"method": c.Request.Method}, err)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func writeBindError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  "invalid request",
			"kind":   string(models.ErrKindInvalidInput),
			"fields": utils.ProcessValidationErrors(validationErrors),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": "invalid request: " + err.Error(),
		"kind":  string(models.ErrKindInvalidInput),
	})
}
