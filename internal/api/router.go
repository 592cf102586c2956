package api

import (
	"net/http"

	"github.com/evetabi/lending/internal/api/handler"
	"github.com/evetabi/lending/internal/api/middleware"
	"github.com/evetabi/lending/internal/config"
	"github.com/evetabi/lending/internal/repository"
	"github.com/evetabi/lending/internal/service"
	"github.com/evetabi/lending/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	EarningsRepo  *repository.EarningsRepository
	SettlementSvc *service.SettlementService
	DualWriteSvc  *service.DualWriteService
	Hub           *ws.Hub
	Cfg           *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		state := service.HealthHealthy
		if deps.DualWriteSvc != nil {
			state = deps.DualWriteSvc.HealthCheck(c.Request.Context())
		}
		status := http.StatusOK
		if state == service.HealthCritical {
			status = http.StatusServiceUnavailable
		}
		body := gin.H{"status": string(state)}
		if deps.Hub != nil {
			body["ws_clients"] = deps.Hub.ConnectedCount()
		}
		c.JSON(status, body)
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	earningsH := handler.NewEarningsHandler(deps.EarningsRepo, deps.SettlementSvc, deps.Cfg.Exchange.Currency)
	dualWriteH := handler.NewDualWriteHandler(deps.DualWriteSvc)

	// ── Rate limiter for operator mutations ──────────────────────────────────
	opsRL := middleware.RateLimitMiddleware(5) // 5 req/s per IP for retry/cutover

	api := r.Group("/api")
	{
		// ── Earnings (read-only) ─────────────────────────────────────────────
		earnings := api.Group("/earnings")
		{
			earnings.GET("", earningsH.ListRange)
			earnings.GET("/:date", earningsH.GetByDate)
		}

		// ── Settlement controls ──────────────────────────────────────────────
		settlement := api.Group("/settlement")
		settlement.Use(opsRL)
		{
			settlement.POST("/:date/retry", earningsH.RetrySettlement)
		}

		// ── Dual-write migration coordinator ─────────────────────────────────
		dualwrite := api.Group("/dualwrite")
		{
			dualwrite.GET("/stats", dualWriteH.GetStats)
			dualwrite.GET("/status", dualWriteH.Status)
			dualwrite.POST("/cutover", opsRL, dualWriteH.Cutover)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In DEBUG mode all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, origin := range cfg.Server.AllowedOrigins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
