package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/http/middleware"
	"github.com/nexston/bekola-backend/internal/http/response"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/realtime"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.Hub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub}
}

// GET /api/events/stream?videos=<id>,<id>&jobs=<id>
//
// Every stream gets the caller's user channel; video and job channels are
// opt-in through the query.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}
	channels := []string{realtime.UserChannel(userID)}
	for _, spec := range []struct {
		param   string
		channel func(uuid.UUID) string
	}{
		{"videos", realtime.VideoChannel},
		{"jobs", realtime.JobChannel},
	} {
		for _, raw := range strings.Split(c.Query(spec.param), ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				response.RespondError(c, http.StatusBadRequest, "invalid_channel_id", err)
				return
			}
			channels = append(channels, spec.channel(id))
		}
	}

	client := h.hub.NewClient(userID)
	for _, ch := range channels {
		h.hub.AddChannel(client, ch)
	}
	defer h.hub.CloseClient(client)

	h.log.Debug("stream open", "user_id", userID.String(), "channels", len(channels))
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
