// Package handlers binds the services to the REST API.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"tabi/internal/appointments"
	"tabi/internal/auth"
	"tabi/internal/business"
	"tabi/internal/dashboard"
	"tabi/internal/lines"
	"tabi/internal/payments"
	"tabi/internal/queue"
	"tabi/internal/response"
	"tabi/internal/reviews"
	"tabi/internal/ws"

	"github.com/gin-gonic/gin"
)

// Handlers holds the services behind the API.
type Handlers struct {
	Auth         *auth.Service
	Tokens       *auth.Tokens
	Lines        *lines.Service
	Queue        *queue.Service
	Dashboard    *dashboard.Service
	Business     *business.Service
	Appointments *appointments.Service
	Payments     *payments.Service
	Reviews      *reviews.Service
	Hub          *ws.Hub
	Now          func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Register mounts every route on r.
func (h *Handlers) Register(r *gin.Engine) {
	r.GET("/health", Health)

	api := r.Group("/api")
	requireAuth := auth.Middleware(h.Tokens)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/send-otp", h.SendOTP)
		authGroup.POST("/verify-otp", h.VerifyOTP)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.GET("/me", requireAuth, h.Me)
		authGroup.PUT("/profile", requireAuth, h.UpdateProfile)
	}

	// Watching a line is public, like looking it up by code.
	api.GET("/lines/:id/ws", h.LineWebSocket)
	api.GET("/lines/code/:code", h.GetLineByCode)
	linesGroup := api.Group("/lines", requireAuth)
	{
		linesGroup.POST("", h.CreateLine)
		linesGroup.GET("/my-lines", h.MyLines)
		linesGroup.PATCH("/:id", h.UpdateLine)
		linesGroup.POST("/:id/regenerate-code", h.RegenerateCode)
		linesGroup.PATCH("/:id/toggle-availability", h.ToggleAvailability)
		linesGroup.DELETE("/:id", h.DeleteLine)
	}

	queueGroup := api.Group("/queue", requireAuth)
	{
		queueGroup.POST("/join", h.JoinQueue)
		queueGroup.GET("/my-queue", h.MyQueue)
		queueGroup.GET("/line/:lineId", h.LineQueue)
		queueGroup.PATCH("/entry/:id/leave", h.LeaveQueue)
		queueGroup.PATCH("/entry/:id/serve", h.ServeEntry)
		queueGroup.PATCH("/entry/:id/visited", h.VisitedEntry)
		queueGroup.PATCH("/entry/:id/remove", h.RemoveEntry)
	}

	dashboardGroup := api.Group("/dashboard", requireAuth)
	{
		dashboardGroup.GET("/stats", h.DashboardStats)
		dashboardGroup.GET("/analytics", h.DashboardAnalytics)
	}

	businessGroup := api.Group("/business", requireAuth)
	{
		businessGroup.POST("/register", h.RegisterBusiness)
		businessGroup.GET("/my-business", h.MyBusiness)
		businessGroup.POST("/join-request", h.CreateJoinRequest)
		businessGroup.GET("/:id/join-requests", h.PendingJoinRequests)
		businessGroup.POST("/:id/join-requests/:rid/respond", h.RespondJoinRequest)
		businessGroup.GET("/:id/dashboard", h.BusinessDashboard)
		businessGroup.POST("/:id/artists", h.AddArtist)
		businessGroup.DELETE("/:id/artists/:userId", h.RemoveArtist)
	}

	// The webhook is authenticated by its signature, not a bearer token.
	api.POST("/payments/webhook", h.PaymentWebhook)
	paymentsGroup := api.Group("/payments", requireAuth)
	{
		paymentsGroup.POST("/subscription", h.SubscriptionCheckout)
		paymentsGroup.POST("/appointment", h.AppointmentCheckout)
		paymentsGroup.POST("/invoice", h.CreateInvoice)
		paymentsGroup.GET("/:id", h.GetPayment)
	}

	appointmentsGroup := api.Group("/appointments", requireAuth)
	{
		appointmentsGroup.POST("", h.BookAppointment)
		appointmentsGroup.GET("/mine", h.MyAppointments)
		appointmentsGroup.GET("/line/:lineId", h.LineAppointments)
		appointmentsGroup.PATCH("/:id/cancel", h.CancelAppointment)
		appointmentsGroup.PATCH("/:id/complete", h.CompleteAppointment)
	}

	api.GET("/reviews/line/:lineId", h.LineReviews)
	api.POST("/reviews", requireAuth, h.CreateReview)
}

// Health godoc
// @Summary	Health check
// @Tags		system
// @Produce	json
// @Success	200	{object}	response.SuccessResponse
// @Router		/health [get]
func Health(c *gin.Context) {
	response.Message(c, "ok")
}

// paramID parses a positive numeric path parameter, writing a 400 when it is not one.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.Fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid "+name, err)
		return 0, false
	}
	return uint(id), true
}
