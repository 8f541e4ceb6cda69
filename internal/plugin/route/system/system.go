package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

var state atomic.Int32

// MarkReady signals that every client is connected and the route is mounted.
func MarkReady() {
	state.Store(stateReady)
}

// MarkDraining makes /ready fail while shutdown waits for in-flight work.
func MarkDraining() {
	state.Store(stateDraining)
}

// MountRoutes mounts the health, readiness and metrics endpoints.
func MountRoutes(r *gin.Engine) {
	// Liveness: process is up
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		switch state.Load() {
		case stateReady:
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		case stateDraining:
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		}
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
