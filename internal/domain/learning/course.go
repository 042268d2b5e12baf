package learning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Course struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Course) TableName() string { return "course" }

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

const (
	ModuleKindVideo = "video"
	ModuleKindTest  = "test"
)

// ModuleItem is one ordered step of a course. Exactly one of VideoID/TestID
// is set, matching Kind.
type ModuleItem struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID  uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_module_item_course_order,priority:1" json:"course_id"`
	Order     int        `gorm:"column:sort_order;not null;uniqueIndex:idx_module_item_course_order,priority:2" json:"order"`
	Kind      string     `gorm:"column:kind;not null" json:"kind"`
	Title     string     `gorm:"column:title" json:"title"`
	VideoID   *uuid.UUID `gorm:"type:uuid;column:video_id;index" json:"video_id,omitempty"`
	TestID    *uuid.UUID `gorm:"type:uuid;column:test_id;index" json:"test_id,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (ModuleItem) TableName() string { return "course_module_item" }

func (m *ModuleItem) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return m.Validate()
}

func (m *ModuleItem) Validate() error {
	switch m.Kind {
	case ModuleKindVideo:
		if m.VideoID == nil || *m.VideoID == uuid.Nil || m.TestID != nil {
			return fmt.Errorf("module item %s: video kind requires video_id only", m.ID)
		}
	case ModuleKindTest:
		if m.TestID == nil || *m.TestID == uuid.Nil || m.VideoID != nil {
			return fmt.Errorf("module item %s: test kind requires test_id only", m.ID)
		}
	default:
		return fmt.Errorf("module item %s: unknown kind %q", m.ID, m.Kind)
	}
	return nil
}

const (
	EnrollmentStatusPending   = "pending"
	EnrollmentStatusCompleted = "completed"
)

// Enrollment rows are created by the payment flow. Status completed means
// paid; CourseCompletedAt is stamped once the last module is completed.
type Enrollment struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_user_course,priority:1" json:"user_id"`
	CourseID          uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_user_course,priority:2;index" json:"course_id"`
	Status            string     `gorm:"column:status;not null;index" json:"status"`
	EnrolledAt        time.Time  `gorm:"column:enrolled_at;not null" json:"enrolled_at"`
	PaymentDate       *time.Time `gorm:"column:payment_date" json:"payment_date,omitempty"`
	CourseCompletedAt *time.Time `gorm:"column:course_completed_at" json:"course_completed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

func (Enrollment) TableName() string { return "enrollment" }

func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = time.Now().UTC()
	}
	return nil
}

func (e *Enrollment) IsCompleted() bool {
	return e != nil && e.Status == EnrollmentStatusCompleted
}
