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

type CertificateHandler struct {
	certs services.CertificateService
}

func NewCertificateHandler(certs services.CertificateService) *CertificateHandler {
	return &CertificateHandler{certs: certs}
}

type submitProofRequest struct {
	ProofLink string `json:"proof_link" binding:"required"`
}

// POST /api/courses/:id/certificate
func (h *CertificateHandler) SubmitProof(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	var req submitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}
	res, err := h.certs.SubmitProof(dbctx.Context{Ctx: c.Request.Context()}, middleware.UserID(c), courseID, req.ProofLink)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"request": res.Request, "finalized": res.Finalized})
}
