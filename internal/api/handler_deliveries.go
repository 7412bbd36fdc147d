package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bloodlink-backend/internal/mw"
)

// Participate handles POST /api/deliveries/:deliveryId/participate. The
// acting user joins the delivery and any transition it unlocks is applied.
func (h *Handler) Participate(c *gin.Context) {
	id, ok := idParam(c, "deliveryId")
	if !ok {
		return
	}

	outcome, err := h.validation.RecordParticipation(c.Request.Context(), id, mw.ActorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var transition *string
	if outcome != "" {
		s := string(outcome)
		transition = &s
	}
	c.JSON(http.StatusOK, gin.H{"deliveryId": id, "transition": transition})
}

// Dispatch handles POST /api/deliveries/:deliveryId/dispatch.
func (h *Handler) Dispatch(c *gin.Context) {
	id, ok := idParam(c, "deliveryId")
	if !ok {
		return
	}

	res, err := h.orders.Dispatch(c.Request.Context(), id, mw.ActorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reconcile handles POST /api/deliveries/reconcile.
func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.validation.ReconcileAll(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
