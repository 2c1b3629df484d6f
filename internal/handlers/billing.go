package handlers

import (
	"net/http"

	"github.com/peerbridge/peerbridge/internal/ledger"

	"github.com/gin-gonic/gin"
)

type logUsageRequest struct {
	ServerURL string `json:"server_url" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

type recordBillingRequest struct {
	SessionID     string   `json:"session_id" binding:"required"`
	ProviderID    string   `json:"provider_id" binding:"required"`
	StartTime     int64    `json:"start_time"`
	EndTime       *int64   `json:"end_time" binding:"required"`
	CostPerMinute *float64 `json:"cost_per_minute" binding:"required"`
}

// LogUsage appends a relay usage record for the calling user. The timestamp
// is server-assigned; clients only say which relay and session.
func (h *Handlers) LogUsage(c *gin.Context) {
	var req logUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	usage, err := h.ledger.LogUsage(userID(c), req.ServerURL, req.SessionID, h.nowFn())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("usage logged", "session_id", usage.SessionID, "user_id", usage.UserID, "server_url", usage.ServerURL)
	c.JSON(http.StatusCreated, usage)
}

func (h *Handlers) GetUsage(c *gin.Context) {
	usage, err := h.ledger.Usage(c.Param("session_id"))
	if err != nil {
		if err == ledger.ErrUsageNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "usage record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}

// GetAllUsage dumps the whole usage trail. Operator-only: it spans every
// user on the deployment.
func (h *Handlers) GetAllUsage(c *gin.Context) {
	if !h.config.IsAdmin(userID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "operator access required"})
		return
	}

	usages, err := h.ledger.AllUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usages": usages, "count": len(usages)})
}

// RecordBilling derives and stores the cost split for a finished session.
// Timestamps are nanosecond epochs supplied by the client.
func (h *Handlers) RecordBilling(c *gin.Context) {
	var req recordBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.ledger.RecordBilling(userID(c), req.SessionID, req.ProviderID, req.StartTime, *req.EndTime, *req.CostPerMinute)
	if err != nil {
		switch err {
		case ledger.ErrEndBeforeStart, ledger.ErrNegativeRate:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	h.logger.Info("billing recorded",
		"session_id", record.SessionID,
		"provider_id", record.ProviderID,
		"total_cost", record.TotalCost,
		"provider_earnings", record.ProviderEarnings,
		"protocol_fee", record.ProtocolFee)
	c.JSON(http.StatusCreated, record)
}

func (h *Handlers) GetBillingRecords(c *gin.Context) {
	records, err := h.ledger.BillingRecords()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}
