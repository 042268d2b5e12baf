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

type CourseHandler struct {
	unlock services.UnlockService
}

func NewCourseHandler(unlock services.UnlockService) *CourseHandler {
	return &CourseHandler{unlock: unlock}
}

// GET /api/courses/:id/modules
func (h *CourseHandler) ListModules(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	userID := middleware.UserID(c)
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.unlock.EnsureFirstModuleUnlocked(dbc, userID, courseID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	modules, err := h.unlock.ComputeModuleView(dbc, userID, courseID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"modules": modules})
}
