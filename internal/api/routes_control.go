package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/connector"
)

// handleResync asks the radio to deliver its next queued message.
func (s *Server) handleResync(c *gin.Context) {
	if err := s.radio.RequestSync(); err != nil {
		if errors.Is(err, connector.ErrNotConnected) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "radio not connected"})
			return
		}
		log.Warn().Err(err).Str("component", "api").Msg("resync failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sync_requested"})
}
