// README: Base handler utilities (JSON helpers, id parsing, error mapping).
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/lock"
	"dispatch/internal/modules/allocation"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/route"
	"dispatch/internal/modules/scheduler"
	"dispatch/internal/obs"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// pathID parses a positive numeric path parameter.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// callerDriverID is the authenticated driver's numeric id; driver accounts
// use their driver id as uid.
func callerDriverID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(middleware.CallerUID(c), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusForbidden, "forbidden: caller is not a driver account")
		return 0, false
	}
	return id, true
}

func writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest), errors.Is(err, driver.ErrBadRequest),
		errors.Is(err, location.ErrInvalidPosition), errors.Is(err, route.ErrInvalidToken):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound), errors.Is(err, driver.ErrNotFound), errors.Is(err, scheduler.ErrUnknownTask):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrTooFar), errors.Is(err, order.ErrGeocode):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrInvalidState), errors.Is(err, order.ErrConflict),
		errors.Is(err, driver.ErrConflict), errors.Is(err, driver.ErrAlreadyRated),
		errors.Is(err, allocation.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, lock.ErrTimeout):
		writeError(c, http.StatusServiceUnavailable, "busy, retry later")
	default:
		log.Printf("http: request_id=%s path=%s err=%v", obs.RequestID(c.Request.Context()), c.Request.URL.Path, err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
