package certificates

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CertificateRequest is a pre-certificate: rendered and numbered but not yet
// emailed. At most one per (user, course).
type CertificateRequest struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_certificate_request_user_course,priority:1" json:"user_id"`
	CourseID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_certificate_request_user_course,priority:2" json:"course_id"`
	FileName    string    `gorm:"column:file_name;not null" json:"file_name"`
	ArtifactKey string    `gorm:"column:artifact_key;not null" json:"artifact_key"`
	ProofLink   string    `gorm:"column:proof_link;not null" json:"proof_link"`
	ReferenceNo string    `gorm:"column:reference_no;not null;index" json:"reference_no"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (CertificateRequest) TableName() string { return "certificate_request" }

func (r *CertificateRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type Certificate struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_certificate_user_course,priority:1" json:"user_id"`
	CourseID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_certificate_user_course,priority:2" json:"course_id"`
	ArtifactKey string    `gorm:"column:artifact_key;not null" json:"artifact_key"`
	ProofLink   string    `gorm:"column:proof_link;not null" json:"proof_link"`
	ReferenceNo string    `gorm:"column:reference_no;not null;uniqueIndex" json:"reference_no"`
	IssuedAt    time.Time `gorm:"column:issued_at;not null" json:"issued_at"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Certificate) TableName() string { return "certificate" }

func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = time.Now().UTC()
	}
	return nil
}

// SequenceRowID is the only row of certificate_sequence.
const SequenceRowID = 1

type CertificateSequence struct {
	ID         int       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	LastNumber int       `gorm:"column:last_number;not null;default:0" json:"last_number"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (CertificateSequence) TableName() string { return "certificate_sequence" }
