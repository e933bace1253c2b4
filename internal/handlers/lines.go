package handlers

import (
	"net/http"

	"tabi/internal/auth"
	"tabi/internal/lines"
	"tabi/internal/logger"
	"tabi/internal/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CreateLine opens a new line
// @Summary		Create line
// @Description	Creates a queue or appointment line with a fresh 6 digit code. Missing capacity and service time fall back to the creator's settings.
// @Tags			lines
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Param			request	body		lines.CreateInput		true	"Line"
// @Success		201		{object}	models.Line
// @Failure		400		{object}	response.ErrorResponse	"Validation error (VALIDATION_ERROR, QUEUE_LIMIT_REACHED)"
// @Failure		403		{object}	response.ErrorResponse	"Not a creator (NOT_CREATOR, NOT_BUSINESS_MEMBER)"
// @Router			/api/lines [post]
func (h *Handlers) CreateLine(c *gin.Context) {
	var in lines.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}

	line, err := h.Lines.Create(c.Request.Context(), auth.UserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, gin.H{"message": "Line created", "line": line})
}

// GetLineByCode looks up an active line by its code
// @Summary	Line by code
// @Tags		lines
// @Produce	json
// @Param		code	path		string	true	"6 digit code"
// @Success	200		{object}	lines.Summary
// @Failure	400		{object}	response.ErrorResponse	"Malformed code (INVALID_CODE)"
// @Failure	404		{object}	response.ErrorResponse	"No active line (LINE_NOT_FOUND)"
// @Router		/api/lines/code/{code} [get]
func (h *Handlers) GetLineByCode(c *gin.Context) {
	summary, err := h.Lines.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{
		"line":                 summary.Line,
		"queueCount":           summary.QueueCount,
		"estimatedWaitTime":    summary.EstimatedWaitTime,
		"isCurrentlyAvailable": summary.IsCurrentlyAvailable,
	})
}

// MyLines lists the caller's active lines
// @Summary	My lines
// @Tags		lines
// @Produce	json
// @Security	BearerAuth
// @Success	200	{array}	lines.Summary
// @Router		/api/lines/my-lines [get]
func (h *Handlers) MyLines(c *gin.Context) {
	summaries, err := h.Lines.ListMine(c.Request.Context(), auth.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"lines": summaries})
}

// UpdateLine edits a line
// @Summary	Update line
// @Tags		lines
// @Accept		json
// @Produce	json
// @Security	BearerAuth
// @Param		id		path		int					true	"Line ID"
// @Param		request	body		lines.UpdateInput	true	"Fields to change"
// @Success	200		{object}	models.Line
// @Failure	400		{object}	response.ErrorResponse	"Validation error"
// @Failure	403		{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Failure	404		{object}	response.ErrorResponse	"Line not found (LINE_NOT_FOUND)"
// @Router		/api/lines/{id} [patch]
func (h *Handlers) UpdateLine(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in lines.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.ValidationFailed(c, err)
		return
	}

	line, err := h.Lines.Update(c.Request.Context(), auth.UserID(c), id, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"message": "Line updated", "line": line})
}

// RegenerateCode gives a line a new code
// @Summary	Regenerate code
// @Tags		lines
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Line ID"
// @Success	200	{object}	models.Line
// @Failure	403	{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Router		/api/lines/{id}/regenerate-code [post]
func (h *Handlers) RegenerateCode(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	line, err := h.Lines.RegenerateCode(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"message": "Code regenerated", "line": line})
}

// ToggleAvailability flips the manual availability switch
// @Summary	Toggle availability
// @Tags		lines
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Line ID"
// @Success	200	{object}	models.Line
// @Failure	403	{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Router		/api/lines/{id}/toggle-availability [patch]
func (h *Handlers) ToggleAvailability(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	line, err := h.Lines.ToggleAvailability(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"line": line})
}

// DeleteLine deactivates a line
// @Summary	Delete line
// @Tags		lines
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Line ID"
// @Success	200	{object}	response.SuccessResponse
// @Failure	403	{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Router		/api/lines/{id} [delete]
func (h *Handlers) DeleteLine(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Lines.Deactivate(c.Request.Context(), auth.UserID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "Line deleted")
}

// LineWebSocket streams the events of a line
// @Summary		Line events
// @Description	Upgrades to a websocket that receives user_joined, user_left, user_serving, user_visited, user_removed and entries_expired events.
// @Tags			lines
// @Param			id	path	int	true	"Line ID"
// @Failure		404	{object}	response.ErrorResponse	"Line not found (LINE_NOT_FOUND)"
// @Router			/api/lines/{id}/ws [get]
func (h *Handlers) LineWebSocket(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if _, err := h.Lines.Get(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}

	if err := h.Hub.Serve(c.Writer, c.Request, id); err != nil {
		logger.FromGin(c).Warn("Websocket upgrade failed", zap.Uint("line_id", id), zap.Error(err))
	}
}
