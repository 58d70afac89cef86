package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleRoot is the human-readable liveness endpoint.
func (s *Server) handleRoot(c *gin.Context) {
	status := "loaded"
	if !s.model.Ready() {
		status = "failed to load"
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Whisper speech-to-text API is up and running! Model status: %s", status),
	})
}

// handleHealth reports model load state and the active compute device.
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	if !s.model.Ready() {
		status = "unhealthy"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"model_loaded": s.model.Ready(),
		"device":       s.model.Device(),
	})
}
