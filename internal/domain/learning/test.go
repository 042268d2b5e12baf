package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Test struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID  uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	Title     string    `gorm:"not null" json:"title"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Test) TableName() string { return "course_test" }

func (t *Test) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Options are the fixed letter choices of a Question.
var Options = []string{"A", "B", "C", "D"}

func IsOption(s string) bool {
	for _, o := range Options {
		if s == o {
			return true
		}
	}
	return false
}

type Question struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TestID        uuid.UUID `gorm:"type:uuid;not null;index" json:"test_id"`
	Text          string    `gorm:"type:text;not null" json:"text"`
	OptionA       string    `gorm:"column:option_a" json:"option_a"`
	OptionB       string    `gorm:"column:option_b" json:"option_b"`
	OptionC       string    `gorm:"column:option_c" json:"option_c"`
	OptionD       string    `gorm:"column:option_d" json:"option_d"`
	CorrectAnswer string    `gorm:"column:correct_answer;size:1;not null" json:"-"`
	Marks         int       `gorm:"column:marks;not null;default:1" json:"marks"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Question) TableName() string { return "test_question" }

func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

// TestAttempt is one scored submission. Attempts are never updated after
// grading completes.
type TestAttempt struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_test_attempt_user_test,priority:1" json:"user_id"`
	TestID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_test_attempt_user_test,priority:2" json:"test_id"`
	CourseID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"course_id"`
	Score       int             `gorm:"column:score;not null;default:0" json:"score"`
	TotalMarks  int             `gorm:"column:total_marks;not null;default:0" json:"total_marks"`
	SubmittedAt time.Time       `gorm:"column:submitted_at;not null;index" json:"submitted_at"`
	Answers     []*AnswerRecord `gorm:"foreignKey:AttemptID" json:"answers,omitempty"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

func (TestAttempt) TableName() string { return "test_attempt" }

func (a *TestAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now().UTC()
	}
	return nil
}

// Passed reports score >= 50% of a non-empty total.
func (a *TestAttempt) Passed() bool {
	return a != nil && IsPassing(a.Score, a.TotalMarks)
}

func IsPassing(score, total int) bool {
	return total > 0 && score*2 >= total
}

type AnswerRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AttemptID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_answer_record_attempt_question,priority:1" json:"attempt_id"`
	QuestionID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_answer_record_attempt_question,priority:2" json:"question_id"`
	Selected     string    `gorm:"column:selected;size:1;not null" json:"selected"`
	IsCorrect    bool      `gorm:"column:is_correct;not null" json:"is_correct"`
	MarksAwarded int       `gorm:"column:marks_awarded;not null;default:0" json:"marks_awarded"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (AnswerRecord) TableName() string { return "answer_record" }

func (r *AnswerRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
