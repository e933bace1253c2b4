package handlers

import (
	"net/http"
	"strconv"

	"tabi/internal/auth"
	"tabi/internal/dashboard"
	"tabi/internal/response"

	"github.com/gin-gonic/gin"
)

// DashboardStats summarizes the caller's lines
// @Summary	Dashboard stats
// @Tags		dashboard
// @Produce	json
// @Security	BearerAuth
// @Success	200	{object}	dashboard.Stats
// @Router		/api/dashboard/stats [get]
func (h *Handlers) DashboardStats(c *gin.Context) {
	stats, err := h.Dashboard.Stats(c.Request.Context(), []uint{auth.UserID(c)}, h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"stats": stats})
}

// DashboardAnalytics returns daily joins and visits
// @Summary	Dashboard analytics
// @Tags		dashboard
// @Produce	json
// @Security	BearerAuth
// @Param		days	query		int	false	"Number of days, 1 to 90"	default(7)
// @Success	200		{object}	dashboard.Analytics
// @Router		/api/dashboard/analytics [get]
func (h *Handlers) DashboardAnalytics(c *gin.Context) {
	days := dashboard.DefaultDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "days must be a number", err)
			return
		}
		days = n
	}

	analytics, err := h.Dashboard.Analytics(c.Request.Context(), []uint{auth.UserID(c)}, dashboard.ClampDays(days), h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"analytics": analytics})
}
