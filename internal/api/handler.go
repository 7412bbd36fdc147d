package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bloodlink-backend/internal/apperr"
	"bloodlink-backend/internal/delivery"
	"bloodlink-backend/internal/drone"
	"bloodlink-backend/internal/dronesync"
	"bloodlink-backend/internal/inventory"
	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/store"
	"bloodlink-backend/internal/validation"
)

// Services are the components exposed over HTTP.
type Services struct {
	Store      store.Store
	Orders     *delivery.StateMachine
	Validation *validation.Service
	Inventory  *inventory.Allocator
	Drones     *drone.Client
	Sync       *dronesync.Loop
	WebPush    *webpush.Options
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	orders     *delivery.StateMachine
	validation *validation.Service
	inventory  *inventory.Allocator
	drones     *drone.Client
	sync       *dronesync.Loop
	webpush    *webpush.Options
	log        *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s Services, log *zap.Logger) *Handler {
	return &Handler{
		store:      s.Store,
		orders:     s.Orders,
		validation: s.Validation,
		inventory:  s.Inventory,
		drones:     s.Drones,
		sync:       s.Sync,
		webpush:    s.WebPush,
		log:        logger.OrNop(log).Named("api"),
	}
}

// writeError maps err to its status code and a JSON body.
func (h *Handler) writeError(c *gin.Context, err error) {
	h.writeErrorStatus(c, apperr.HTTPStatus(err), err)
}

func (h *Handler) writeErrorStatus(c *gin.Context, status int, err error) {
	var stockErr *apperr.InsufficientStockError
	if errors.As(err, &stockErr) {
		c.AbortWithStatusJSON(status, gin.H{
			"error":     stockErr.Error(),
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})
		return
	}

	if status >= http.StatusInternalServerError && apperr.KindOf(err) == apperr.KindInternal {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "kind": apperr.KindOf(err).String()})
}

// idParam parses a positive integer path parameter.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// bindJSON decodes the request body, answering 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}
