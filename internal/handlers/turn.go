package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetTURNConfig returns the ICE server list for WebRTC clients: the
// embedded relay (when enabled) plus every active relay from the provider
// directory. The embedded relay is UDP-only, so its URL scheme is "turn:"
// rather than "turns:"; media is still encrypted by DTLS-SRTP.
func (h *Handlers) GetTURNConfig(c *gin.Context) {
	iceServers := make([]map[string]interface{}, 0, 4)

	if h.turnServer != nil {
		host := c.Request.Host
		if idx := strings.Index(host, ":"); idx != -1 {
			host = host[:idx]
		}

		creds := h.turnServer.GetCredentials()
		iceServers = append(iceServers,
			map[string]interface{}{
				"urls": fmt.Sprintf("stun:%s:%d", host, h.config.TURNPort),
			},
			map[string]interface{}{
				"urls":       fmt.Sprintf("turn:%s:%d", host, h.config.TURNPort),
				"username":   creds.Username,
				"credential": creds.Password,
			},
		)
	}

	directory, err := h.providers.List()
	if err != nil {
		h.logger.Warn("provider directory unavailable for turn config", "error", err)
	}
	for _, p := range directory {
		if !p.IsActive {
			continue
		}
		iceServers = append(iceServers, map[string]interface{}{"urls": p.URL})
	}

	c.JSON(http.StatusOK, gin.H{"iceServers": iceServers})
}
