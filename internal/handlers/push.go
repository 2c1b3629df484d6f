package handlers

import (
	"net/http"

	"github.com/peerbridge/peerbridge/internal/push"

	"github.com/gin-gonic/gin"
)

type pushSubscribeKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type pushSubscribeRequest struct {
	Endpoint string            `json:"endpoint" binding:"required"`
	Keys     pushSubscribeKeys `json:"keys" binding:"required"`
}

type pushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *Handlers) GetVAPIDPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": h.notifier.PublicKey()})
}

func (h *Handlers) SubscribePush(c *gin.Context) {
	var req pushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.notifier.Subscribe(userID(c), req.Endpoint, req.Keys.P256DH, req.Keys.Auth)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscription_id": sub.ID})
}

func (h *Handlers) UnsubscribePush(c *gin.Context) {
	var req pushUnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.notifier.Unsubscribe(userID(c), req.Endpoint); err != nil {
		if err == push.ErrSubscriptionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unsubscribed"})
}
