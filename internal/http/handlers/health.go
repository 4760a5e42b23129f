package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

const serviceVersion = "1.0.0"

// Health handles GET /health.
func Health(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":    "healthy",
		"service":   "corehub",
		"version":   serviceVersion,
		"timestamp": time.Now().UTC(),
	})
}
