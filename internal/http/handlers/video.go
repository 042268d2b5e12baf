package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/http/middleware"
	"github.com/nexston/bekola-backend/internal/http/response"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/services"
)

type VideoHandler struct {
	progress  services.ProgressService
	transcode services.TranscodeService
}

func NewVideoHandler(progress services.ProgressService, transcode services.TranscodeService) *VideoHandler {
	return &VideoHandler{progress: progress, transcode: transcode}
}

type reportProgressRequest struct {
	Position *float64 `json:"position" binding:"required,gte=0"`
}

// POST /api/videos/:id/progress
func (h *VideoHandler) ReportProgress(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	var req reportProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	res, err := h.progress.ReportProgress(dbctx.Context{Ctx: c.Request.Context()}, middleware.UserID(c), videoID, *req.Position)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"progress": res})
}

// GET /api/videos/:id/progress
func (h *VideoHandler) GetProgress(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	res, err := h.progress.GetProgress(dbctx.Context{Ctx: c.Request.Context()}, middleware.UserID(c), videoID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"progress": res})
}

// GET /api/videos/:id/status
func (h *VideoHandler) Status(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	userID := middleware.UserID(c)
	st, err := h.transcode.Status(dbctx.Context{Ctx: c.Request.Context()}, &userID, videoID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"video": st})
}

// POST /api/videos/:id/transcode
func (h *VideoHandler) EnqueueTranscode(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	userID := middleware.UserID(c)
	job, created, err := h.transcode.EnqueueTranscode(dbctx.Context{Ctx: c.Request.Context()}, videoID, &userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job, "created": created})
}
