package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VideoProgress is the per-user watch state of one video. WatchedSeconds and
// LastPosition never decrease and IsCompleted never reverts.
type VideoProgress struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_video_progress_user_video,priority:1" json:"userId"`
	VideoID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_video_progress_user_video,priority:2;index" json:"videoId"`
	WatchedSeconds float64    `gorm:"column:watched_seconds;not null;default:0" json:"watchedSeconds"`
	LastPosition   float64    `gorm:"column:last_position;not null;default:0" json:"lastPosition"`
	IsCompleted    bool       `gorm:"column:is_completed;not null;default:false" json:"isCompleted"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updatedAt"`
}

func (VideoProgress) TableName() string { return "video_progress" }

func (p *VideoProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type ContentProgress struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_content_progress_user_module,priority:1" json:"user_id"`
	ModuleID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_content_progress_user_module,priority:2;index" json:"module_id"`
	IsCompleted bool       `gorm:"column:is_completed;not null;default:false" json:"is_completed"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (ContentProgress) TableName() string { return "content_progress" }

func (p *ContentProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ModuleUnlock is the persisted unlock frontier. Rows only ever go to true.
type ModuleUnlock struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_module_unlock_user_module,priority:1" json:"user_id"`
	ModuleID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_module_unlock_user_module,priority:2;index" json:"module_id"`
	IsUnlocked bool       `gorm:"column:is_unlocked;not null;default:false" json:"is_unlocked"`
	UnlockedAt *time.Time `gorm:"column:unlocked_at" json:"unlocked_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (ModuleUnlock) TableName() string { return "module_unlock" }

func (u *ModuleUnlock) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
