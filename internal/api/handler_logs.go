package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxListLimit = 200

func listLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return 0
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// RecentPayments lists the newest payments, 10 unless limit says otherwise.
func (h *Handler) RecentPayments(c *gin.Context) {
	payments, err := h.svc.ListRecentPayments(c.Request.Context(), listLimit(c))
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

// RecentAccessLogs lists the newest sessions, 20 unless limit says otherwise.
func (h *Handler) RecentAccessLogs(c *gin.Context) {
	logs, err := h.svc.ListRecentAccessLogs(c.Request.Context(), listLimit(c))
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
