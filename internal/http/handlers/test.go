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

type TestHandler struct {
	grading services.GradingService
}

func NewTestHandler(grading services.GradingService) *TestHandler {
	return &TestHandler{grading: grading}
}

type submitTestRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// GET /api/courses/:id/tests/:testId
func (h *TestHandler) Get(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	testID, err := uuid.Parse(c.Param("testId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_test_id", err)
		return
	}
	test, err := h.grading.GetTest(dbctx.Context{Ctx: c.Request.Context()}, middleware.UserID(c), courseID, testID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"test": test})
}

// POST /api/courses/:id/tests/:testId/submit
func (h *TestHandler) Submit(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	testID, err := uuid.Parse(c.Param("testId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_test_id", err)
		return
	}
	var req submitTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	answers := make(map[uuid.UUID]string, len(req.Answers))
	for k, v := range req.Answers {
		qid, err := uuid.Parse(k)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_question_id", err)
			return
		}
		answers[qid] = v
	}
	res, err := h.grading.Submit(dbctx.Context{Ctx: c.Request.Context()}, middleware.UserID(c), courseID, testID, answers)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"result": res})
}

// GET /api/courses/:id/tests/history
func (h *TestHandler) History(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	attempts, err := h.grading.History(dbctx.Context{Ctx: c.Request.Context()}, middleware.UserID(c), courseID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"attempts": attempts})
}
