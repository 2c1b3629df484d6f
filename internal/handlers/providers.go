package handlers

import (
	"net/http"

	"github.com/peerbridge/peerbridge/internal/providers"

	"github.com/gin-gonic/gin"
)

type registerProviderRequest struct {
	Name            string  `json:"name" binding:"required"`
	URL             string  `json:"url" binding:"required"`
	PublicKey       string  `json:"public_key"`
	Location        string  `json:"location"`
	AttestationHash *string `json:"attestation_hash"`
	StakeAmount     int64   `json:"stake_amount"`
}

// RegisterProvider adds the caller's relay to the directory.
func (h *Handlers) RegisterProvider(c *gin.Context) {
	var req registerProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := h.providers.Register(userID(c), providers.Registration{
		Name:            req.Name,
		URL:             req.URL,
		PublicKey:       req.PublicKey,
		Location:        req.Location,
		AttestationHash: req.AttestationHash,
		StakeAmount:     req.StakeAmount,
	}, h.nowFn())
	if err != nil {
		if err == providers.ErrURLTaken {
			c.JSON(http.StatusConflict, gin.H{"error": "provider url already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("provider registered", "provider_id", provider.ID, "url", provider.URL, "owner", provider.Owner)
	c.JSON(http.StatusCreated, provider)
}

func (h *Handlers) ListProviders(c *gin.Context) {
	list, err := h.providers.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": list, "count": len(list)})
}

func (h *Handlers) GetProvider(c *gin.Context) {
	provider, err := h.providers.Get(c.Param("provider_id"))
	if err != nil {
		if err == providers.ErrProviderNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, provider)
}
