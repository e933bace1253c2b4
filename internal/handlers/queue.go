package handlers

import (
	"net/http"

	"tabi/internal/auth"
	"tabi/internal/response"

	"github.com/gin-gonic/gin"
)

type joinRequest struct {
	LineCode string `json:"lineCode" binding:"required,len=6" example:"482913"`
}

// JoinQueue adds the caller to a line
// @Summary		Join queue
// @Description	Joins the active line with the given code and notifies everyone watching it.
// @Tags			queue
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Param			request	body		joinRequest				true	"Line code"
// @Success		201		{object}	queue.JoinResult		"Joined, with rank and estimated wait"
// @Failure		400		{object}	response.ErrorResponse	"Cannot join (ALREADY_JOINED, LINE_FULL, LINE_INACTIVE, LINE_UNAVAILABLE, APPOINTMENT_LINE, CUSTOMER_LIMIT_REACHED)"
// @Failure		404		{object}	response.ErrorResponse	"Line not found (LINE_NOT_FOUND)"
// @Failure		500		{object}	response.ErrorResponse	"Server error (DB_ERROR)"
// @Router			/api/queue/join [post]
func (h *Handlers) JoinQueue(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, err)
		return
	}

	res, err := h.Queue.Join(c.Request.Context(), auth.UserID(c), req.LineCode)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, http.StatusCreated, gin.H{
		"message":           "Joined the queue",
		"entry":             res.Entry,
		"line":              res.Line,
		"rank":              res.Rank,
		"estimatedWaitTime": res.EstimatedWaitTime,
	})
}

// MyQueue lists the caller's active entries
// @Summary	My queue
// @Tags		queue
// @Produce	json
// @Security	BearerAuth
// @Success	200	{array}	queue.EntryView
// @Router		/api/queue/my-queue [get]
func (h *Handlers) MyQueue(c *gin.Context) {
	entries, err := h.Queue.MyQueue(c.Request.Context(), auth.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"entries": entries})
}

// LineQueue lists the active entries of a line for its creator
// @Summary	Line entries
// @Tags		queue
// @Produce	json
// @Security	BearerAuth
// @Param		lineId	path		int	true	"Line ID"
// @Success	200		{array}		queue.EntryView
// @Failure	403		{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Failure	404		{object}	response.ErrorResponse	"Line not found (LINE_NOT_FOUND)"
// @Router		/api/queue/line/{lineId} [get]
func (h *Handlers) LineQueue(c *gin.Context) {
	lineID, ok := paramID(c, "lineId")
	if !ok {
		return
	}
	entries, err := h.Queue.LineEntries(c.Request.Context(), auth.UserID(c), lineID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// LeaveQueue takes the caller out of a line
// @Summary	Leave queue
// @Tags		queue
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Entry ID"
// @Success	200	{object}	response.SuccessResponse
// @Failure	400	{object}	response.ErrorResponse	"Not waiting (NOT_IN_QUEUE)"
// @Failure	403	{object}	response.ErrorResponse	"Someone else's entry (NOT_YOUR_ENTRY)"
// @Failure	404	{object}	response.ErrorResponse	"Entry not found (ENTRY_NOT_FOUND)"
// @Router		/api/queue/entry/{id}/leave [patch]
func (h *Handlers) LeaveQueue(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Queue.Leave(c.Request.Context(), id, auth.UserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "Left the queue")
}

// ServeEntry marks an entry as being served
// @Summary	Serve entry
// @Tags		queue
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Entry ID"
// @Success	200	{object}	response.SuccessResponse
// @Failure	400	{object}	response.ErrorResponse	"Not waiting (NOT_IN_QUEUE)"
// @Failure	403	{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Router		/api/queue/entry/{id}/serve [patch]
func (h *Handlers) ServeEntry(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Queue.MarkServing(c.Request.Context(), auth.UserID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "Customer is being served")
}

// VisitedEntry marks an entry as visited
// @Summary		Mark visited
// @Description	Completes the visit and texts the next customer in line.
// @Tags			queue
// @Produce		json
// @Security		BearerAuth
// @Param			id	path		int	true	"Entry ID"
// @Success		200	{object}	response.SuccessResponse
// @Failure		400	{object}	response.ErrorResponse	"Not active (NOT_IN_QUEUE)"
// @Failure		403	{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Router			/api/queue/entry/{id}/visited [patch]
func (h *Handlers) VisitedEntry(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Queue.MarkVisited(c.Request.Context(), auth.UserID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "Visit completed")
}

// RemoveEntry removes a customer from a line
// @Summary	Remove entry
// @Tags		queue
// @Produce	json
// @Security	BearerAuth
// @Param		id	path		int	true	"Entry ID"
// @Success	200	{object}	response.SuccessResponse
// @Failure	400	{object}	response.ErrorResponse	"Not active (NOT_IN_QUEUE)"
// @Failure	403	{object}	response.ErrorResponse	"Not the owner (NOT_LINE_OWNER)"
// @Router		/api/queue/entry/{id}/remove [patch]
func (h *Handlers) RemoveEntry(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Queue.Remove(c.Request.Context(), auth.UserID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, "Customer removed")
}
