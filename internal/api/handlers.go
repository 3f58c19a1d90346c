package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/allipceo/JeJuV2.0/internal/accommodation"
	"github.com/allipceo/JeJuV2.0/internal/logger"
	"github.com/allipceo/JeJuV2.0/internal/middleware"
	"github.com/allipceo/JeJuV2.0/internal/models"
	"github.com/allipceo/JeJuV2.0/internal/proxy"
	"github.com/allipceo/JeJuV2.0/internal/ratelimit"
	"github.com/allipceo/JeJuV2.0/internal/service"
)

const Version = "2.0.0"

// HandlerConfig holds the dependencies for Handlers. Nil Catalog or
// Dashboard disables the matching routes; nil RateLimiter disables limiting.
type HandlerConfig struct {
	Logger      logger.Logger
	Proxy       *proxy.Proxy
	Catalog     *accommodation.Catalog
	Dashboard   *service.Dashboard
	Board       *service.Board
	RateLimiter *ratelimit.Limiter
	// OverviewMaxAge reloads a rendered batch once it is older than this.
	// Zero serves the last rendered result indefinitely.
	OverviewMaxAge time.Duration
}

// Handlers contains all HTTP handlers
type Handlers struct {
	logger      logger.Logger
	startTime   time.Time
	proxy       *proxy.Proxy
	catalog     *accommodation.Catalog
	dashboard   *service.Dashboard
	board       *service.Board
	rateLimiter *ratelimit.Limiter
	maxAge      time.Duration
	validate    *validator.Validate
}

// NewHandlers creates a new handlers instance
func NewHandlers(handlerConfig HandlerConfig) *Handlers {
	board := handlerConfig.Board
	if board == nil {
		board = service.NewBoard()
	}
	return &Handlers{
		logger:      handlerConfig.Logger,
		startTime:   time.Now(),
		proxy:       handlerConfig.Proxy,
		catalog:     handlerConfig.Catalog,
		dashboard:   handlerConfig.Dashboard,
		board:       board,
		rateLimiter: handlerConfig.RateLimiter,
		maxAge:      handlerConfig.OverviewMaxAge,
		validate:    validator.New(),
	}
}

// SetupRoutes configures all the routes using Gin
func (handlers *Handlers) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(handlers.logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())

	if handlers.rateLimiter != nil && handlers.rateLimiter.Enabled() {
		router.Use(handlers.rateLimitMiddleware())
	}

	router.GET("/health", handlers.HealthCheck)

	if handlers.proxy != nil {
		router.GET("/proxy", handlers.Proxy)
	}
	if handlers.catalog != nil {
		router.GET("/accommodation-api", handlers.Accommodation)
	}

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/overview", handlers.OverviewIndex)
		apiV1.GET("/overview/:batch", handlers.Overview)
	}

	return router
}

// HealthCheck handles health check requests
func (handlers *Handlers) HealthCheck(context *gin.Context) {
	context.JSON(http.StatusOK, models.HealthCheck{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(handlers.startTime).String(),
	})
}

// Proxy answers /proxy?service=..&type=.. with the envelope built by the proxy.
func (handlers *Handlers) Proxy(context *gin.Context) {
	query := proxy.QueryFromValues(context.Request.URL.Query())
	response := handlers.proxy.Handle(context.Request.Context(), query)

	if response.Source != "" {
		context.Header("X-Data-Source", string(response.Source))
	}
	context.Data(response.Status, "application/json; charset=utf-8", response.Body)
}

// Accommodation serves the lodging list. Only action=list is known; other
// actions get a 200 carrying success:false.
func (handlers *Handlers) Accommodation(context *gin.Context) {
	action := context.DefaultQuery("action", accommodation.ActionList)
	if action != accommodation.ActionList {
		context.JSON(http.StatusOK, accommodation.ErrorResponse{Error: accommodation.MsgInvalidEndpoint})
		return
	}

	filters := accommodation.Filters{
		Type:       context.Query("type"),
		Location:   context.Query("location"),
		PriceRange: context.Query("price_range"),
	}
	if err := handlers.validate.Struct(filters); err != nil {
		context.JSON(http.StatusBadRequest, accommodation.ErrorResponse{Error: "invalid filter: " + err.Error()})
		return
	}

	context.JSON(http.StatusOK, handlers.catalog.List(filters))
}

// OverviewIndex lists the dashboard batches and which have been rendered.
func (handlers *Handlers) OverviewIndex(context *gin.Context) {
	if handlers.dashboard == nil {
		handlers.writeErrorResponse(context, http.StatusServiceUnavailable, "dashboard unavailable", "not configured")
		return
	}
	context.JSON(http.StatusOK, gin.H{
		"batches":  handlers.dashboard.Batches(),
		"rendered": handlers.board.Batches(),
	})
}

// Overview returns the latest result of a dashboard batch, loading it once
// when nothing fresh has been rendered yet.
func (handlers *Handlers) Overview(context *gin.Context) {
	if handlers.dashboard == nil {
		handlers.writeErrorResponse(context, http.StatusServiceUnavailable, "dashboard unavailable", "not configured")
		return
	}

	batch := context.Param("batch")
	if !handlers.dashboard.Has(batch) {
		handlers.writeErrorResponse(context, http.StatusNotFound, "unknown batch", batch)
		return
	}

	if latest, ok := handlers.board.Latest(batch); ok && !handlers.stale(latest) {
		context.JSON(http.StatusOK, latest)
		return
	}

	result, err := handlers.dashboard.Load(context.Request.Context(), batch)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUnknownBatch) {
			status = http.StatusNotFound
		}
		handlers.writeErrorResponse(context, status, "failed to load batch", err.Error())
		return
	}
	handlers.board.Render(result)

	context.JSON(http.StatusOK, result)
}

func (handlers *Handlers) stale(result models.BatchResult) bool {
	return handlers.maxAge > 0 && time.Since(result.GeneratedAt) > handlers.maxAge
}

// writeErrorResponse writes an error response using Gin context
func (handlers *Handlers) writeErrorResponse(context *gin.Context, statusCode int, errorMessage, errorDetails string) {
	context.JSON(statusCode, models.ErrorResponse{
		Error:   errorMessage,
		Message: errorDetails,
		Code:    statusCode,
	})
}

// rateLimitMiddleware limits each client IP to its own token bucket.
func (handlers *Handlers) rateLimitMiddleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		clientIP := handlers.rateLimiter.GetClientIP(context.Request)
		allowed := handlers.rateLimiter.Allow(clientIP)

		context.Header("X-RateLimit-Limit", strconv.Itoa(handlers.rateLimiter.Limit()))
		context.Header("X-RateLimit-Remaining", strconv.Itoa(handlers.rateLimiter.Remaining(clientIP)))

		if !allowed {
			handlers.logger.WithFields(logger.Fields{"client_ip": clientIP}).Warn("Rate limit exceeded")
			reset := time.Now().Add(handlers.rateLimiter.Bucket(clientIP).WaitInterval())
			context.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			handlers.writeErrorResponse(context, http.StatusTooManyRequests, "Rate limit exceeded", "too many requests")
			context.Abort()
			return
		}

		context.Next()
	}
}
