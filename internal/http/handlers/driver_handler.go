// README: Driver handlers; stop arrival and customer ratings.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/route"
)

type Drivers interface {
	ArriveNode(ctx context.Context, driverID int64, n route.Node) error
	SubmitRating(ctx context.Context, cmd driver.SubmitRatingCommand) (int64, error)
}

type OrderReader interface {
	Get(ctx context.Context, id int64) (*order.Order, error)
}

type DriverHandler struct {
	drivers Drivers
	orders  OrderReader
}

func NewDriverHandler(drivers Drivers, orders OrderReader) *DriverHandler {
	return &DriverHandler{drivers: drivers, orders: orders}
}

type arriveReq struct {
	Node string `json:"node"`
}

// Arrive removes a served stop from the caller's route.
func (h *DriverHandler) Arrive(c *gin.Context) {
	id, ok := ownDriverPath(c)
	if !ok {
		return
	}
	var req arriveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	n, err := route.ParseNode(req.Node)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if err := h.drivers.ArriveNode(c.Request.Context(), id, n); err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "node": n.String()})
}

type ratingReq struct {
	OrderID int64   `json:"order_id"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// Rate records the caller's rating of the driver who delivered their order.
func (h *DriverHandler) Rate(c *gin.Context) {
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ratingReq
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID <= 0 {
		writeError(c, http.StatusBadRequest, "order_id and score are required")
		return
	}
	o, err := h.orders.Get(c.Request.Context(), req.OrderID)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	uid := middleware.CallerUID(c)
	if o.CustomerID != uid {
		writeError(c, http.StatusForbidden, "forbidden: order belongs to another customer")
		return
	}
	if o.Status != order.StatusFinished || o.DriverID == nil || *o.DriverID != driverID {
		writeError(c, http.StatusConflict, "order was not delivered by this driver")
		return
	}
	ratingID, err := h.drivers.SubmitRating(c.Request.Context(), driver.SubmitRatingCommand{
		DriverID:   driverID,
		OrderID:    req.OrderID,
		CustomerID: uid,
		Score:      req.Score,
		Comment:    req.Comment,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"rating_id": ratingID})
}

// ownDriverPath parses :id and requires it to be the calling driver.
func ownDriverPath(c *gin.Context) (int64, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return 0, false
	}
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return 0, false
	}
	if middleware.CallerUID(c) != formatID(id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return 0, false
	}
	return id, true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
