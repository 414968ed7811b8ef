package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(handler *Handler) *gin.Engine {
	r := gin.Default()

	// K8s probes
	r.GET("/livez", handler.Livez)
	r.GET("/readyz", handler.Readyz)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/v2/alerts", handler.ReceiveAlerts)
		api.GET("/alerts", handler.GetAlerts)
		api.GET("/health", handler.GetHealth)
		api.GET("/k8s/health", handler.GetK8sHealth)
		api.GET("/watchdog", handler.GetWatchdog)
		api.GET("/history", handler.GetHistory)
	}

	return r
}
