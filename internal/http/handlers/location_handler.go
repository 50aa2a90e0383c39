// README: Driver position updates.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/location"
	"dispatch/internal/types"
)

type Positions interface {
	Update(ctx context.Context, u location.Update) error
}

type LocationHandler struct {
	location Positions
}

func NewLocationHandler(svc Positions) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id, ok := ownDriverPath(c)
	if !ok {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	err := h.location.Update(c.Request.Context(), location.Update{DriverID: id, Position: types.Point{Lat: *req.Lat, Lng: *req.Lng}})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
