package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/health"
	"github.com/meshbridge-project/meshbridge/internal/util"
)

// handleGetStatus returns radio, decoder and Discord counters.
func (s *Server) handleGetStatus(c *gin.Context) {
	radio := s.radio.Stats()
	session := s.radio.Session().Stats()

	body := gin.H{
		"connected":  radio.State == "connected",
		"radio":      radio,
		"decoder":    session,
		"uptime_sec": int64(util.Uptime().Seconds()),
		"process":    util.GetProcessUsage(),
	}
	if s.notifier != nil {
		body["discord"] = s.notifier.Stats()
	}
	if s.health != nil {
		body["health"] = s.health.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// handleGetHealth returns the latest check results. Any check at error
// level or worse turns the response into a 503.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"healthy": true, "checks": []health.CheckResult{}})
		return
	}

	checks := s.health.Snapshot()
	healthy := true
	for _, r := range checks {
		if r.Level == health.LevelError || r.Level == health.LevelCritical {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}

// handleGetContacts returns the live contact directory.
func (s *Server) handleGetContacts(c *gin.Context) {
	contacts := s.radio.Session().Directory.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"contacts": contacts,
		"total":    len(contacts),
	})
}

// handleGetNodes returns every node recorded in the history store.
func (s *Server) handleGetNodes(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}
	nodes, err := s.history.Nodes()
	if err != nil {
		log.Error().Err(err).Str("component", "api").Msg("failed to load nodes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load nodes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// handleGetEvents returns recent events, newest first.
func (s *Server) handleGetEvents(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	evs, err := s.history.Recent(c.Query("type"), limit)
	if err != nil {
		log.Error().Err(err).Str("component", "api").Msg("failed to load events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": evs,
		"count":  len(evs),
		"limit":  limit,
	})
}
