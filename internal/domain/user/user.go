package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is owned by the identity service; this side only reads it.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"not null;uniqueIndex" json:"email"`
	FullName  string    `gorm:"column:full_name" json:"full_name"`
	Gender    string    `gorm:"column:gender" json:"gender,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "app_user" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// DisplayName falls back to the local part of the email when no name is on file.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return strings.TrimSpace(local)
}

func (u *User) Salutation() string {
	if u == nil {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(u.Gender)) {
	case "male", "m":
		return "Mr. "
	case "female", "f":
		return "Ms. "
	default:
		return ""
	}
}
