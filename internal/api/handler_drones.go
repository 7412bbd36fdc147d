package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bloodlink-backend/internal/drone"
)

// GetDronesStatus handles GET /api/drones/status.
func (h *Handler) GetDronesStatus(c *gin.Context) {
	statuses, err := h.sync.DronesStatus(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

// ForceSync handles POST /api/drones/:id/sync.
func (h *Handler) ForceSync(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if _, err := h.sync.ForceSync(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	d, err := h.store.GetDrone(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetFlightInfo handles GET /api/drones/:id/flight_info. It reads the drone
// live and does not touch the stored snapshot.
func (h *Handler) GetFlightInfo(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	info, err := h.drones.GetFlightInfo(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// CreateMission handles POST /api/drones/:id/mission/create.
func (h *Handler) CreateMission(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req drone.CreateMissionRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.drones.CreateMission(c.Request.Context(), id, req))
}

// StartMission handles POST /api/drones/:id/mission/start.
func (h *Handler) StartMission(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.respond(c)(h.drones.StartMission(c.Request.Context(), id))
}

// ReturnToHome handles POST /api/drones/:id/rth.
func (h *Handler) ReturnToHome(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.respond(c)(h.drones.ReturnToHome(c.Request.Context(), id))
}

// ModifyMission handles POST /api/drones/:id/mission/modify.
func (h *Handler) ModifyMission(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req drone.ModifyMissionRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.drones.ModifyMission(c.Request.Context(), id, req))
}

// SendMissionFile handles POST /api/drones/:id/mission/send with a
// multipart "file" field, which is streamed to the drone.
func (h *Handler) SendMissionFile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()

	h.respond(c)(h.drones.SendMissionFile(c.Request.Context(), id, header.Filename, f))
}

// ChangeFlightMode handles POST /api/drones/:id/command.
func (h *Handler) ChangeFlightMode(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req drone.CommandRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.drones.ChangeFlightMode(c.Request.Context(), id, req.Mode))
}

func (h *Handler) respond(c *gin.Context) func(*drone.Result, error) {
	return func(res *drone.Result, err error) {
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
