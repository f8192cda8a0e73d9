package httpapi

import (
	"referralhub/pkg/config"
	"referralhub/pkg/health"
	"referralhub/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(registerOpsEndpoints),
)

// NewEngine builds the gin engine every service module registers routes on.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics(), middleware.Error())
	return r
}

func registerOpsEndpoints(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// ClientGroup returns the /v1 group scoped by X-Client-ID.
func ClientGroup(r *gin.Engine) *gin.RouterGroup {
	return r.Group("/v1", middleware.RequireClient())
}

// PublicGroup returns the unauthenticated /v1/public group used by landing pages.
func PublicGroup(r *gin.Engine) *gin.RouterGroup {
	return r.Group("/v1/public")
}
