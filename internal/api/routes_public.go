package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshbridge-project/meshbridge/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "meshbridge",
		"version": util.Version,
	})
}

func (s *Server) handleGetVersion(c *gin.Context) {
	sysInfo := util.GetSystemInfo()
	c.JSON(http.StatusOK, gin.H{
		"version":  util.Version,
		"name":     "meshbridge",
		"hostname": sysInfo.Hostname,
		"os":       sysInfo.OS,
		"arch":     sysInfo.Architecture,
	})
}
