package handlers

import (
	"net/http"

	"tabi/internal/auth"
	"tabi/internal/response"

	"github.com/gin-gonic/gin"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// SendOTP sends a one-time code to a phone
// @Summary		Send OTP
// @Description	Sends a 6 digit code by SMS. Signup requires an unused phone, login an existing account. In development the code is echoed back.
// @Tags			auth
// @Accept			json
// @Produce		json
// @Param			request	body		auth.SendOTPInput			true	"Phone and purpose"
// @Success		200		{object}	response.SuccessResponse	"Code sent"
// @Failure		400		{object}	response.ErrorResponse		"Validation error (VALIDATION_ERROR, INVALID_PHONE, INVALID_PURPOSE, USER_EXISTS)"
// @Failure		404		{object}	response.ErrorResponse		"No account for login (USER_NOT_FOUND)"
// @Failure		429		{object}	response.ErrorResponse		"Resend cooldown (OTP_COOLDOWN)"
// @Router			/api/auth/send-otp [post]
func (h *Handlers) SendOTP(c *gin.Context) {
	var in auth.SendOTPInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}

	res, err := h.Auth.SendOTP(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{"message": "OTP sent", "expiresAt": res.ExpiresAt}
	if res.Code != "" {
		payload["code"] = res.Code
	}
	response.OK(c, http.StatusOK, payload)
}

// VerifyOTP checks the code and logs the user in
// @Summary		Verify OTP
// @Description	Consumes the code. On signup the account is created with the given name. Returns an access and a refresh token.
// @Tags			auth
// @Accept			json
// @Produce		json
// @Param			request	body		auth.VerifyOTPInput		true	"Phone, purpose and code"
// @Success		200		{object}	response.TokenResponse	"Logged in"
// @Failure		400		{object}	response.ErrorResponse	"Invalid code (INVALID_OTP, OTP_EXPIRED, OTP_TOO_MANY_ATTEMPTS, NAME_REQUIRED)"
// @Failure		404		{object}	response.ErrorResponse	"No pending code (OTP_NOT_FOUND)"
// @Router			/api/auth/verify-otp [post]
func (h *Handlers) VerifyOTP(c *gin.Context) {
	var in auth.VerifyOTPInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}

	session, err := h.Auth.VerifyOTP(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, http.StatusOK, gin.H{
		"user":         session.User,
		"accessToken":  session.AccessToken,
		"refreshToken": session.RefreshToken,
	})
}

// Refresh exchanges a refresh token for a new pair
// @Summary	Refresh tokens
// @Tags		auth
// @Accept		json
// @Produce	json
// @Param		request	body		refreshRequest			true	"Refresh token"
// @Success	200		{object}	response.TokenResponse
// @Failure	401		{object}	response.ErrorResponse	"Invalid token (INVALID_TOKEN, TOKEN_EXPIRED)"
// @Router		/api/auth/refresh [post]
func (h *Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, err)
		return
	}

	session, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, http.StatusOK, gin.H{
		"accessToken":  session.AccessToken,
		"refreshToken": session.RefreshToken,
	})
}

// Me returns the caller's account
// @Summary	Current user
// @Tags		auth
// @Produce	json
// @Security	BearerAuth
// @Success	200	{object}	models.User
// @Failure	401	{object}	response.ErrorResponse
// @Router		/api/auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.Auth.Me(c.Request.Context(), auth.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"user": u})
}

// UpdateProfile edits the caller's profile
// @Summary		Update profile
// @Description	Only the fields present are changed. A new email has to be verified again.
// @Tags			auth
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Param			request	body		auth.ProfileInput		true	"Profile fields"
// @Success		200		{object}	models.User
// @Failure		400		{object}	response.ErrorResponse	"Validation error (INVALID_EMAIL, EMAIL_TAKEN, INVALID_SETTINGS)"
// @Router			/api/auth/profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var in auth.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}

	u, err := h.Auth.UpdateProfile(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"message": "Profile updated", "user": u})
}
