package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/scheduling-api/internal/handler/health"
	"github.com/jwalitptl/scheduling-api/internal/handler/prometheus"
	"github.com/jwalitptl/scheduling-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	RateLimit      rate.Limit
	RateBurst      int
	CORSConfig     middleware.CORSConfig
	RequestTimeout time.Duration
	JWTSecret      string
	JWTIssuer      string
	IdempotencyTTL time.Duration
	MaxBodySize    int64
}

type Router struct {
	engine  *gin.Engine
	config  RouterConfig
	health  *health.Handler
	metrics *prometheus.Handler
	api     []Handler
}

func NewRouter(health *health.Handler, metrics *prometheus.Handler, config RouterConfig, api ...Handler) (*Router, error) {
	if err := middleware.ConfigureValidation(middleware.DefaultValidationConfig()); err != nil {
		return nil, err
	}

	engine := gin.New()

	r := &Router{
		engine:  engine,
		config:  config,
		health:  health,
		metrics: metrics,
		api:     api,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		metrics.Middleware(),
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
	)
	return r, nil
}

func (r *Router) Setup() {
	r.health.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metrics.Handler())

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if r.config.MaxBodySize > 0 {
		sizeLimit.MaxBodySize = r.config.MaxBodySize
	}

	var jwtOpts []jwt.ParserOption
	if r.config.JWTIssuer != "" {
		jwtOpts = append(jwtOpts, jwt.WithIssuer(r.config.JWTIssuer))
	}

	idempotencyTTL := r.config.IdempotencyTTL
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}

	api := r.engine.Group("/api")
	api.Use(
		middleware.Timeout(middleware.TimeoutConfig{Duration: r.config.RequestTimeout}),
		middleware.SizeLimit(sizeLimit),
		middleware.Identity(r.config.JWTSecret, jwtOpts...),
		middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		}).RateLimit(),
		middleware.NewIdempotency(idempotencyTTL).Handle(),
	)

	for _, h := range r.api {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
