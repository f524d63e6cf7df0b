package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/shared/config"
	"lovepage-backend/internal/shared/metrics"
	"lovepage-backend/internal/shared/server/middleware"
	"lovepage-backend/internal/shared/server/respond"
)

const serviceName = "lovepage-backend"

// Rate limit groups.
const (
	groupConsume  = "CONSUME"
	groupPayments = "PAYMENTS"
	groupAdmin    = "ADMIN"
)

// RouteRegistrar attaches a feature's routes to the API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries the handlers mounted under /api/v1. Nil handlers are skipped.
type RouterDeps struct {
	Config       config.Config
	Catalog      *plans.Catalog
	Health       func(ctx context.Context) error
	// PlanOf reports the plan id of a signed-in account for /me.
	PlanOf       func(ctx context.Context, accountID string) (string, error)
	Entitlements RouteRegistrar
	Admin        RouteRegistrar
	Payments     RouteRegistrar
	GoogleAuth   RouteRegistrar
	RateLimiter  *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env != "dev" && deps.Config.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Catalog == nil {
		deps.Catalog = plans.Default()
	}
	r := gin.New()

	r.Use(
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    defaultRateLimitRules,
			GroupFor: rateLimitGroup,
			Limiter:  deps.RateLimiter,
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.Health))
	api.GET("/plans", func(c *gin.Context) {
		respond.OK(c, gin.H{"plans": deps.Catalog.List()})
	})
	registerMeRoutes(api, deps.Catalog, deps.PlanOf)

	for _, reg := range []RouteRegistrar{deps.GoogleAuth, deps.Entitlements, deps.Payments, deps.Admin} {
		if reg != nil {
			reg.RegisterRoutes(api)
		}
	}

	return r
}

var defaultRateLimitRules = map[string]middleware.RateLimitRule{
	groupConsume:  {Rate: 2, Burst: 10},
	groupPayments: {Rate: 0.5, Burst: 5},
	groupAdmin:    {Rate: 5, Burst: 20},
}

// rateLimitGroup buckets mutating routes; reads stay unlimited.
func rateLimitGroup(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case strings.HasPrefix(path, "/api/v1/admin/"):
		return groupAdmin
	case strings.HasPrefix(path, "/api/v1/payments/"):
		return groupPayments
	case strings.HasSuffix(path, "/consume"):
		return groupConsume
	default:
		return ""
	}
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				respond.Error(c, http.StatusServiceUnavailable, "store_unavailable", "quota store unavailable", nil)
				return
			}
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
