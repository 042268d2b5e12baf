package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type EnrollmentRepo interface {
	Create(dbc dbctx.Context, rows []*types.Enrollment) ([]*types.Enrollment, error)
	Get(dbc dbctx.Context, userID, courseID uuid.UUID) (*types.Enrollment, error)
	// GetForUpdate row-locks the enrollment until the surrounding transaction ends.
	GetForUpdate(dbc dbctx.Context, userID, courseID uuid.UUID) (*types.Enrollment, error)
	MarkCourseCompleted(dbc dbctx.Context, id uuid.UUID, at time.Time) error
}

type enrollmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEnrollmentRepo(db *gorm.DB, baseLog *logger.Logger) EnrollmentRepo {
	return &enrollmentRepo{db: db, log: baseLog.With("repo", "EnrollmentRepo")}
}

func (r *enrollmentRepo) Create(dbc dbctx.Context, rows []*types.Enrollment) ([]*types.Enrollment, error) {
	if len(rows) == 0 {
		return []*types.Enrollment{}, nil
	}
	if err := dbc.Conn(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *enrollmentRepo) Get(dbc dbctx.Context, userID, courseID uuid.UUID) (*types.Enrollment, error) {
	return r.get(dbc.Conn(r.db), userID, courseID)
}

func (r *enrollmentRepo) GetForUpdate(dbc dbctx.Context, userID, courseID uuid.UUID) (*types.Enrollment, error) {
	return r.get(dbc.Conn(r.db).Clauses(clause.Locking{Strength: "UPDATE"}), userID, courseID)
}

func (r *enrollmentRepo) get(q *gorm.DB, userID, courseID uuid.UUID) (*types.Enrollment, error) {
	if userID == uuid.Nil || courseID == uuid.Nil {
		return nil, nil
	}
	var e types.Enrollment
	if err := q.Where("user_id = ? AND course_id = ?", userID, courseID).Limit(1).Find(&e).Error; err != nil {
		return nil, err
	}
	if e.ID == uuid.Nil {
		return nil, nil
	}
	return &e, nil
}

// MarkCourseCompleted sets status completed and stamps course_completed_at
// only the first time.
func (r *enrollmentRepo) MarkCourseCompleted(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.Enrollment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              learning.EnrollmentStatusCompleted,
			"course_completed_at": gorm.Expr("COALESCE(course_completed_at, ?)", at),
			"updated_at":          at,
		}).Error
}
