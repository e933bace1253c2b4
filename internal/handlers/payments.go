package handlers

import (
	"io"
	"net/http"

	"tabi/internal/auth"
	"tabi/internal/payments"
	"tabi/internal/response"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// PaymentWebhook applies a payment provider notification
// @Summary		Payment webhook
// @Description	Called by the payment provider. The raw body must be signed with HMAC-SHA256 in the X-Payment-Signature header. Replays are acknowledged without effect.
// @Tags			payments
// @Accept			json
// @Produce		json
// @Param			X-Payment-Signature	header		string					true	"Hex HMAC of the body"
// @Param			request				body		payments.WebhookEvent	true	"Event"
// @Success		200					{object}	response.SuccessResponse
// @Failure		400					{object}	response.ErrorResponse	"Bad event (INVALID_WEBHOOK_PAYLOAD, INVALID_PAYMENT_TRANSITION)"
// @Failure		401					{object}	response.ErrorResponse	"Bad signature (INVALID_SIGNATURE)"
// @Failure		404					{object}	response.ErrorResponse	"Unknown payment (PAYMENT_NOT_FOUND)"
// @Router			/api/payments/webhook [post]
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ValidationFailed(c, err)
		return
	}

	p, err := h.Payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(payments.SignatureHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"message": "Webhook processed", "status": p.Status})
}

// SubscriptionCheckout starts a plan purchase
// @Summary		Subscription checkout
// @Description	Business plans need the businessId of a business the caller owns.
// @Tags			payments
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Param			request	body		payments.SubscriptionCheckoutInput	true	"Plan"
// @Success		201		{object}	models.Payment
// @Failure		400		{object}	response.ErrorResponse	"Validation error (INVALID_PLAN, BUSINESS_REQUIRED)"
// @Failure		403		{object}	response.ErrorResponse	"Not the owner (NOT_BUSINESS_OWNER)"
// @Router			/api/payments/subscription [post]
func (h *Handlers) SubscriptionCheckout(c *gin.Context) {
	var in payments.SubscriptionCheckoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}
	p, err := h.Payments.CreateSubscriptionCheckout(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"payment": p, "checkoutUrl": p.CheckoutURL})
}

// AppointmentCheckout starts the payment for a booked appointment
// @Summary	Appointment checkout
// @Tags		payments
// @Accept		json
// @Produce	json
// @Security	BearerAuth
// @Param		request	body		payments.AppointmentCheckoutInput	true	"Appointment"
// @Success	201		{object}	models.Payment
// @Failure	400		{object}	response.ErrorResponse	"Nothing to pay (NOTHING_TO_PAY)"
// @Failure	403		{object}	response.ErrorResponse	"Someone else's booking (NOT_YOUR_APPOINTMENT)"
// @Router		/api/payments/appointment [post]
func (h *Handlers) AppointmentCheckout(c *gin.Context) {
	var in payments.AppointmentCheckoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}
	p, err := h.Payments.CreateAppointmentCheckout(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"payment": p, "checkoutUrl": p.CheckoutURL})
}

// CreateInvoice creates a free form payment request
// @Summary	Create invoice
// @Tags		payments
// @Accept		json
// @Produce	json
// @Security	BearerAuth
// @Param		request	body		payments.InvoiceInput	true	"Invoice"
// @Success	201		{object}	models.Payment
// @Failure	400		{object}	response.ErrorResponse	"Validation error (INVALID_AMOUNT)"
// @Router		/api/payments/invoice [post]
func (h *Handlers) CreateInvoice(c *gin.Context) {
	var in payments.InvoiceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}
	p, err := h.Payments.CreateInvoice(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"payment": p, "checkoutUrl": p.CheckoutURL})
}

// GetPayment returns one of the caller's payments
// @Summary	Get payment
// @Tags		payments
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Payment ID"
// @Success	200	{object}	models.Payment
// @Failure	404	{object}	response.ErrorResponse	"Payment not found (PAYMENT_NOT_FOUND)"
// @Router		/api/payments/{id} [get]
func (h *Handlers) GetPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.Payments.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"payment": p})
}
