package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event names published on the bus.
const (
	EventVideoProgress   = "video.transcode.progress"
	EventVideoReady      = "video.transcode.ready"
	EventVideoFailed     = "video.transcode.failed"
	EventCertificateSent = "certificate.sent"

	EventJobCreated  = "job.created"
	EventJobProgress = "job.progress"
	EventJobFailed   = "job.failed"
	EventJobDone     = "job.done"
)

// Event is a small fan-out notification. Subscribers filter by Channel,
// which is the video id for transcode events, the job id for job lifecycle
// events and the user id otherwise.
type Event struct {
	Channel string         `json:"channel"`
	Name    string         `json:"event"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

func VideoChannel(videoID uuid.UUID) string { return "video:" + videoID.String() }

func UserChannel(userID uuid.UUID) string { return "user:" + userID.String() }

func JobChannel(jobID uuid.UUID) string { return "job:" + jobID.String() }
