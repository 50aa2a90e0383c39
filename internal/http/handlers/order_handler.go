// README: Order handlers; creation, allocation trigger, ETA and delivery completion.
package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/allocation"
	"dispatch/internal/modules/eta"
	"dispatch/internal/modules/order"
	"dispatch/internal/obs"
	"dispatch/internal/types"
)

// asyncAllocateTimeout bounds the allocation attempt started after creation.
const asyncAllocateTimeout = 2 * time.Minute

type Orders interface {
	Create(ctx context.Context, cmd order.CreateCommand) (int64, error)
	Get(ctx context.Context, id int64) (*order.Order, error)
	Finish(ctx context.Context, cmd order.FinishCommand) error
}

type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (allocation.Result, error)
}

type Estimator interface {
	EstimatedDelivery(ctx context.Context, orderID int64) (eta.Estimate, error)
}

type OrderHandler struct {
	orders    Orders
	allocator Allocator
	eta       Estimator
	// async runs the post-creation allocation; tests replace it.
	async func(fn func())
}

func NewOrderHandler(orders Orders, allocator Allocator, estimator Estimator) *OrderHandler {
	return &OrderHandler{orders: orders, allocator: allocator, eta: estimator, async: func(fn func()) { go fn() }}
}

type createOrderReq struct {
	PickupAddress  string  `json:"pickup_address"`
	DropoffAddress string  `json:"dropoff_address"`
	Weight         float64 `json:"weight"`
}

// Create stores a pending order for the caller and starts an allocation
// attempt without waiting for it.
func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.orders.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:     middleware.CallerUID(c),
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		Weight:         req.Weight,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}

	rid := obs.RequestID(c.Request.Context())
	h.async(func() {
		ctx, cancel := context.WithTimeout(obs.WithRequestID(context.Background(), rid), asyncAllocateTimeout)
		defer cancel()
		res, err := h.allocator.Allocate(ctx, allocation.Request{OrderID: id})
		if err != nil {
			log.Printf("http: async allocate order=%d err=%v", id, err)
			return
		}
		log.Printf("http: async allocate order=%d status=%s driver=%d", id, res.Status, res.DriverID)
	})
	writeJSON(c, http.StatusCreated, gin.H{"order_id": id, "status": order.StatusPending})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if !canView(c, o) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// Allocate runs one allocation round synchronously.
func (h *OrderHandler) Allocate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.allocator.Allocate(c.Request.Context(), allocation.Request{OrderID: id})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *OrderHandler) ETA(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if !canView(c, o) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	est, err := h.eta.EstimatedDelivery(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, est)
}

type finishReq struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	PhotoURL string   `json:"photo_url"`
}

func (h *OrderHandler) Finish(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	driverID, ok := callerDriverID(c)
	if !ok {
		return
	}
	var req finishReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	err := h.orders.Finish(c.Request.Context(), order.FinishCommand{
		OrderID:  id,
		DriverID: driverID,
		Position: types.Point{Lat: *req.Lat, Lng: *req.Lng},
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order_id": id, "status": order.StatusFinished})
}

// canView allows the order's customer, its driver and admins.
func canView(c *gin.Context, o *order.Order) bool {
	uid := middleware.CallerUID(c)
	switch {
	case middleware.CallerRole(c) == middleware.RoleAdmin:
		return true
	case o.CustomerID == uid:
		return true
	case o.DriverID != nil && middleware.CallerRole(c) == middleware.RoleDriver:
		return uid == formatID(*o.DriverID)
	}
	return false
}
