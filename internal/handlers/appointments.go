package handlers

import (
	"net/http"

	"tabi/internal/appointments"
	"tabi/internal/auth"
	"tabi/internal/response"

	"github.com/gin-gonic/gin"
)

// BookAppointment books a slot on an appointment line
// @Summary		Book appointment
// @Description	Paid lines leave the booking pending until the payment completes.
// @Tags			appointments
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Param			request	body		appointments.BookInput	true	"Slot"
// @Success		201		{object}	models.Appointment
// @Failure		400		{object}	response.ErrorResponse	"Cannot book (SLOT_TAKEN, START_IN_PAST, OUTSIDE_AVAILABILITY, NOT_APPOINTMENT_LINE, LINE_INACTIVE)"
// @Failure		404		{object}	response.ErrorResponse	"Line not found (LINE_NOT_FOUND)"
// @Router			/api/appointments [post]
func (h *Handlers) BookAppointment(c *gin.Context) {
	var in appointments.BookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}
	appt, err := h.Appointments.Book(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"message": "Appointment booked", "appointment": appt})
}

// MyAppointments lists the caller's bookings
// @Summary	My appointments
// @Tags		appointments
// @Produce	json
// @Security	BearerAuth
// @Success	200	{array}	models.Appointment
// @Router		/api/appointments/mine [get]
func (h *Handlers) MyAppointments(c *gin.Context) {
	list, err := h.Appointments.ListMine(c.Request.Context(), auth.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"appointments": list})
}

// LineAppointments lists upcoming bookings of a line for its creator
// @Summary	Line appointments
// @Tags		appointments
// @Produce	json
// @Security	BearerAuth
// @Param		lineId	path		int	true	"Line ID"
// @Success	200		{array}		models.Appointment
// @Failure	403		{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Router		/api/appointments/line/{lineId} [get]
func (h *Handlers) LineAppointments(c *gin.Context) {
	lineID, ok := paramID(c, "lineId")
	if !ok {
		return
	}
	list, err := h.Appointments.ListForLine(c.Request.Context(), auth.UserID(c), lineID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"appointments": list})
}

// CancelAppointment cancels a booking
// @Summary		Cancel appointment
// @Description	Customers can cancel until the cutoff before the start. The line creator can cancel at any time.
// @Tags			appointments
// @Produce		json
// @Security		BearerAuth
// @Param			id	path		int	true	"Appointment ID"
// @Success		200	{object}	models.Appointment
// @Failure		400	{object}	response.ErrorResponse	"Cannot cancel (CANCELLATION_WINDOW_CLOSED, INVALID_APPOINTMENT_STATUS)"
// @Failure		403	{object}	response.ErrorResponse	"Someone else's booking (NOT_YOUR_APPOINTMENT)"
// @Router			/api/appointments/{id}/cancel [patch]
func (h *Handlers) CancelAppointment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	appt, err := h.Appointments.Cancel(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"message": "Appointment cancelled", "appointment": appt})
}

// CompleteAppointment marks a confirmed booking as completed
// @Summary	Complete appointment
// @Tags		appointments
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Appointment ID"
// @Success	200	{object}	models.Appointment
// @Failure	400	{object}	response.ErrorResponse	"Not confirmed (INVALID_APPOINTMENT_STATUS)"
// @Failure	403	{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Router		/api/appointments/{id}/complete [patch]
func (h *Handlers) CompleteAppointment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	appt, err := h.Appointments.Complete(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"message": "Appointment completed", "appointment": appt})
}
