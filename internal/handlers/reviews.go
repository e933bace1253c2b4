package handlers

import (
	"net/http"

	"tabi/internal/auth"
	"tabi/internal/response"
	"tabi/internal/reviews"

	"github.com/gin-gonic/gin"
)

// CreateReview rates a finished visit or appointment
// @Summary		Create review
// @Description	Exactly one of lineJoinerId and appointmentId must be set. The visit must be finished and belong to the caller.
// @Tags			reviews
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Param			request	body		reviews.CreateInput		true	"Review"
// @Success		201		{object}	models.Review
// @Failure		400		{object}	response.ErrorResponse	"Cannot review (INVALID_RATING, INVALID_REVIEW_TARGET, REVIEW_NOT_ALLOWED, ALREADY_REVIEWED)"
// @Failure		403		{object}	response.ErrorResponse	"Someone else's visit (NOT_YOUR_VISIT)"
// @Router			/api/reviews [post]
func (h *Handlers) CreateReview(c *gin.Context) {
	var in reviews.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}
	review, err := h.Reviews.Create(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"message": "Review saved", "review": review})
}

// LineReviews lists the reviews of a line
// @Summary	Line reviews
// @Tags		reviews
// @Produce	json
// @Param		lineId	path		int	true	"Line ID"
// @Success	200		{object}	reviews.LineReviews
// @Router		/api/reviews/line/{lineId} [get]
func (h *Handlers) LineReviews(c *gin.Context) {
	lineID, ok := paramID(c, "lineId")
	if !ok {
		return
	}
	res, err := h.Reviews.ListForLine(c.Request.Context(), lineID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{
		"reviews":       res.Reviews,
		"count":         res.Count,
		"averageRating": res.AverageRating,
	})
}
