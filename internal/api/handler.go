package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/redisclient"
	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	reservations *service.ReservationService
	store        Pinger
	redis        *redisclient.Client
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. redis may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(reservations *service.ReservationService, store Pinger, redis *redisclient.Client) *Handler {
	return &Handler{
		reservations: reservations,
		store:        store,
		redis:        redis,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reservations", h.createReservation)
		v1.GET("/reservations/:id", h.getReservation)
		v1.POST("/reservations/:id/confirm", h.confirmReservation)
		v1.POST("/reservations/:id/check-in", h.checkInReservation)
		v1.POST("/reservations/:id/check-out", h.checkOutReservation)
		v1.POST("/reservations/:id/cancel", h.cancelReservation)
		v1.POST("/reservations/:id/payments", h.processGuestPayment)
		v1.POST("/payouts/:id/complete", h.completeOwnerPayout)
		v1.GET("/distribution", h.previewDistribution)
		v1.GET("/executions/:id/steps", h.getExecutionSteps)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings the store and, when configured, redis.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"store": "ok"}
	ready := true
	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	}
	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			ready = false
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) createReservation(c *gin.Context) {
	var req service.CreateReservationRequest
	if !bindJSON(c, &req) {
		return
	}

	res := h.reservations.CreateReservation(c.Request.Context(), &req)
	if res.Success {
		c.JSON(http.StatusCreated, res)
		return
	}
	respond(c, res)
}

func (h *Handler) getReservation(c *gin.Context) {
	view, err := h.reservations.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperrors.HTTPStatus(apperrors.KindOf(err)), gin.H{
			"error": err.Error(),
			"code":  apperrors.KindOf(err),
		})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) confirmReservation(c *gin.Context) {
	respond(c, h.reservations.ConfirmReservation(c.Request.Context(), c.Param("id")))
}

func (h *Handler) checkInReservation(c *gin.Context) {
	respond(c, h.reservations.CheckInReservation(c.Request.Context(), c.Param("id")))
}

func (h *Handler) checkOutReservation(c *gin.Context) {
	respond(c, h.reservations.CompleteReservation(c.Request.Context(), c.Param("id")))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelReservation(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	respond(c, h.reservations.CancelReservation(c.Request.Context(), c.Param("id"), req.Reason))
}

// processGuestPayment records a guest payment. A repeated Idempotency-Key
// is rejected with 409 until the first request fails or the key expires.
func (h *Handler) processGuestPayment(c *gin.Context) {
	var data service.PaymentData
	if !bindJSON(c, &data) {
		return
	}

	ctx := c.Request.Context()
	key := c.GetHeader("Idempotency-Key")
	if key != "" && h.redis != nil {
		key = "payment:" + c.Param("id") + ":" + key
		claimed, err := h.redis.ClaimIdempotencyKey(ctx, key, idempotencyTTL)
		if err != nil {
			h.logger.Error("Failed to claim idempotency key", zap.String("key", key), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
			return
		}
		if !claimed {
			c.JSON(http.StatusConflict, gin.H{
				"error": "duplicate request",
				"code":  apperrors.KindConflict,
			})
			return
		}
	}

	res := h.reservations.ProcessGuestPayment(ctx, c.Param("id"), data)
	if !res.Success && key != "" && h.redis != nil {
		if err := h.redis.ReleaseIdempotencyKey(ctx, key); err != nil {
			h.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
		}
	}
	respond(c, res)
}

func (h *Handler) completeOwnerPayout(c *gin.Context) {
	var data service.PayoutData
	if !bindJSON(c, &data) {
		return
	}
	respond(c, h.reservations.ProcessOwnerPayout(c.Request.Context(), c.Param("id"), data))
}

func (h *Handler) getExecutionSteps(c *gin.Context) {
	steps, err := h.reservations.ExecutionSteps(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperrors.HTTPStatus(apperrors.KindOf(err)), gin.H{
			"error": err.Error(),
			"code":  apperrors.KindOf(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": c.Param("id"), "steps": steps})
}

func (h *Handler) previewDistribution(c *gin.Context) {
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil || amount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "amount must be a non-negative integer",
			"code":  apperrors.KindInvalidArgument,
		})
		return
	}
	c.JSON(http.StatusOK, h.reservations.CalculateDistribution(amount))
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
			"code":    apperrors.KindInvalidArgument,
		})
		return false
	}
	return true
}

func respond(c *gin.Context, res service.Result) {
	c.JSON(apperrors.HTTPStatus(res.Code), res)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
