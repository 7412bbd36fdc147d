package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bloodlink-backend/internal/apperr"
	"bloodlink-backend/internal/delivery"
	"bloodlink-backend/internal/mw"
)

type orderRequest struct {
	HospitalID int64  `json:"hospitalId" binding:"required"`
	CenterID   int64  `json:"centerId" binding:"required"`
	BloodType  string `json:"bloodType" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required"`
	Urgent     bool   `json:"urgent"`
	Notes      string `json:"notes" binding:"max=1024"`
}

// PlaceOrder handles POST /api/blood/order.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req orderRequest
	if !bindJSON(c, &req) {
		return
	}

	d, err := h.orders.PlaceOrder(c.Request.Context(), delivery.OrderRequest{
		HospitalID: req.HospitalID,
		CenterID:   req.CenterID,
		BloodType:  req.BloodType,
		Quantity:   req.Quantity,
		Urgent:     req.Urgent,
		Notes:      req.Notes,
	}, mw.ActorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// CancelOrder handles POST /api/blood/cancel-order/:deliveryId.
func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := idParam(c, "deliveryId")
	if !ok {
		return
	}

	d, err := h.orders.CancelOrder(c.Request.Context(), id, mw.ActorID(c))
	if err != nil {
		// A delivery that is no longer pending is a bad request here.
		if apperr.KindOf(err) == apperr.KindConflict {
			h.writeErrorStatus(c, http.StatusBadRequest, err)
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// UpdateStatus handles POST /api/blood/status-update/:deliveryId.
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := idParam(c, "deliveryId")
	if !ok {
		return
	}
	var req delivery.StatusUpdate
	if !bindJSON(c, &req) {
		return
	}

	d, err := h.orders.UpdateStatus(c.Request.Context(), id, req, mw.ActorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetStock handles GET /api/blood/stock?centerId=.
func (h *Handler) GetStock(c *gin.Context) {
	var centerID int64
	if raw := c.Query("centerId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid centerId"})
			return
		}
		centerID = id
	}

	levels, err := h.inventory.Stock(c.Request.Context(), centerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, levels)
}
