package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pipeline stages. Forward order is uploading -> converting -> uploading_hls
// -> ready; failed is reachable from any stage.
const (
	StageUploading    = "uploading"
	StageConverting   = "converting"
	StageUploadingHLS = "uploading_hls"
	StageReady        = "ready"
	StageFailed       = "failed"
)

const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

type VideoAsset struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID        uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	Title           string    `gorm:"column:title" json:"title"`
	SourceKey       *string   `gorm:"column:source_key" json:"source_key,omitempty"`
	Stage           string    `gorm:"column:stage;not null;index" json:"stage"`
	Status          string    `gorm:"column:status;not null" json:"status"`
	Progress        int       `gorm:"column:progress;not null;default:0" json:"progress"`
	DurationSeconds *float64  `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	PlaybackURL     *string   `gorm:"column:playback_url" json:"playback_url,omitempty"`
	Log             string    `gorm:"column:log;type:text" json:"log,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (VideoAsset) TableName() string { return "video_asset" }

func (v *VideoAsset) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Stage == "" {
		v.Stage = StageUploading
	}
	if v.Status == "" {
		v.Status = StatusProcessing
	}
	return nil
}

// Duration returns the known duration, or 0 when it has not been measured yet.
func (v *VideoAsset) Duration() float64 {
	if v == nil || v.DurationSeconds == nil || *v.DurationSeconds <= 0 {
		return 0
	}
	return *v.DurationSeconds
}

func (v *VideoAsset) IsReady() bool {
	return v != nil && v.Stage == StageReady
}
