package handlers

import (
	"net/http"

	"tabi/internal/auth"
	"tabi/internal/business"
	"tabi/internal/models"
	"tabi/internal/response"

	"github.com/gin-gonic/gin"
)

type addArtistRequest struct {
	UserID uint              `json:"userId" binding:"required"`
	Role   models.ArtistRole `json:"role" example:"artist"`
}

type respondRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// RegisterBusiness creates a business owned by the caller
// @Summary	Register business
// @Tags		business
// @Accept		json
// @Produce	json
// @Security	BearerAuth
// @Param		request	body		business.RegisterInput	true	"Business"
// @Success	201		{object}	models.Business
// @Failure	400		{object}	response.ErrorResponse	"Validation error (INVALID_NAME, BUSINESS_EXISTS)"
// @Router		/api/business/register [post]
func (h *Handlers) RegisterBusiness(c *gin.Context) {
	var in business.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}
	biz, err := h.Business.Register(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"message": "Business registered", "business": biz})
}

// MyBusiness lists businesses the caller owns or works at
// @Summary	My business
// @Tags		business
// @Produce	json
// @Security	BearerAuth
// @Success	200	{array}	models.Business
// @Router		/api/business/my-business [get]
func (h *Handlers) MyBusiness(c *gin.Context) {
	list, err := h.Business.Mine(c.Request.Context(), auth.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"businesses": list})
}

// CreateJoinRequest asks to join a business
// @Summary	Request to join
// @Tags		business
// @Accept		json
// @Produce	json
// @Security	BearerAuth
// @Param		request	body		business.JoinRequestInput	true	"Request"
// @Success	201		{object}	models.JoinRequest
// @Failure	400		{object}	response.ErrorResponse	"Cannot request (ALREADY_MEMBER, JOIN_REQUEST_PENDING, INVALID_ROLE)"
// @Failure	404		{object}	response.ErrorResponse	"Business not found (BUSINESS_NOT_FOUND)"
// @Router		/api/business/join-request [post]
func (h *Handlers) CreateJoinRequest(c *gin.Context) {
	var in business.JoinRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}
	req, err := h.Business.CreateJoinRequest(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"message": "Join request sent", "request": req})
}

// PendingJoinRequests lists open requests for a business
// @Summary	Pending join requests
// @Tags		business
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Business ID"
// @Success	200	{array}		models.JoinRequest
// @Failure	403	{object}	response.ErrorResponse	"Not allowed (INSUFFICIENT_PERMISSIONS)"
// @Router		/api/business/{id}/join-requests [get]
func (h *Handlers) PendingJoinRequests(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	list, err := h.Business.PendingRequests(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"requests": list})
}

// RespondJoinRequest approves or rejects a join request
// @Summary		Respond to join request
// @Description	Approval adds the requester as an artist, subject to the plan's artist limit.
// @Tags			business
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Param			id		path		int				true	"Business ID"
// @Param			rid		path		int				true	"Request ID"
// @Param			request	body		respondRequest	true	"Decision"
// @Success		200		{object}	models.JoinRequest
// @Failure		400		{object}	response.ErrorResponse	"Cannot respond (JOIN_REQUEST_RESPONDED, ARTIST_LIMIT_REACHED)"
// @Failure		403		{object}	response.ErrorResponse	"Not allowed (INSUFFICIENT_PERMISSIONS)"
// @Router			/api/business/{id}/join-requests/{rid}/respond [post]
func (h *Handlers) RespondJoinRequest(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rid, ok := paramID(c, "rid")
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, err)
		return
	}

	jr, err := h.Business.RespondJoinRequest(c.Request.Context(), auth.UserID(c), id, rid, *req.Approve)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"message": "Join request " + string(jr.Status), "request": jr})
}

// BusinessDashboard rolls up stats over every member's lines
// @Summary	Business dashboard
// @Tags		business
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Business ID"
// @Success	200	{object}	business.Dashboard
// @Failure	403	{object}	response.ErrorResponse	"Not allowed (INSUFFICIENT_PERMISSIONS)"
// @Router		/api/business/{id}/dashboard [get]
func (h *Handlers) BusinessDashboard(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	dash, err := h.Business.Dashboard(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"business": dash.Business, "stats": dash.Stats})
}

// AddArtist adds a user to a business directly
// @Summary	Add artist
// @Tags		business
// @Accept		json
// @Produce	json
// @Security	BearerAuth
// @Param		id		path		int					true	"Business ID"
// @Param		request	body		addArtistRequest	true	"Artist"
// @Success	201		{object}	models.BusinessArtist
// @Failure	400		{object}	response.ErrorResponse	"Cannot add (ALREADY_MEMBER, ARTIST_LIMIT_REACHED, OWNER_CANNOT_BE_ARTIST)"
// @Failure	403		{object}	response.ErrorResponse	"Not allowed (INSUFFICIENT_PERMISSIONS)"
// @Router		/api/business/{id}/artists [post]
func (h *Handlers) AddArtist(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req addArtistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, err)
		return
	}
	artist, err := h.Business.AddArtist(c.Request.Context(), auth.UserID(c), id, req.UserID, req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"message": "Artist added", "artist": artist})
}

// RemoveArtist deactivates an artist
// @Summary	Remove artist
// @Tags		business
// @Produce	json
// @Security	BearerAuth
// @Param		id		path		int	true	"Business ID"
// @Param		userId	path		int	true	"User ID"
// @Success	200		{object}	response.SuccessResponse
// @Failure	403		{object}	response.ErrorResponse	"Not allowed (INSUFFICIENT_PERMISSIONS)"
// @Failure	404		{object}	response.ErrorResponse	"Not an artist (ARTIST_NOT_FOUND)"
// @Router		/api/business/{id}/artists/{userId} [delete]
func (h *Handlers) RemoveArtist(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	if err := h.Business.RemoveArtist(c.Request.Context(), auth.UserID(c), id, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "Artist removed")
}
