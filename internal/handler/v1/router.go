package v1

import (
	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/dmehra2102/prod-golang-projects/securehealth/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NewRouter builds the engine. A nil gatherer serves the default prometheus registry.
func NewRouter(cfg *config.Config, h *Handler, health *Health, m *metrics.Collector, gatherer prometheus.Gatherer, log *zap.Logger) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		Recovery(log),
		RequestID(),
		Logger(log),
		Metrics(m),
	)
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(CORS(cfg.CORS))
	}
	r.Use(RateLimit(cfg.RateLimit))
	if cfg.Tracing.Enabled {
		r.Use(Tracing())
	}

	r.GET("/healthz", health.Handle)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.HandlerFor(gatherer)))
	} else {
		r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))
	}

	h.Register(r.Group("/api/v1", GuardMutations(cfg.CORS)))
	return r
}
