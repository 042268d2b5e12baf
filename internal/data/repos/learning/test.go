package learning

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type TestRepo interface {
	Create(dbc dbctx.Context, tests []*types.Test) ([]*types.Test, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Test, error)
	CreateQuestions(dbc dbctx.Context, qs []*types.Question) ([]*types.Question, error)
	ListQuestions(dbc dbctx.Context, testID uuid.UUID) ([]*types.Question, error)
}

type testRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTestRepo(db *gorm.DB, baseLog *logger.Logger) TestRepo {
	return &testRepo{db: db, log: baseLog.With("repo", "TestRepo")}
}

func (r *testRepo) Create(dbc dbctx.Context, tests []*types.Test) ([]*types.Test, error) {
	if len(tests) == 0 {
		return []*types.Test{}, nil
	}
	if err := dbc.Conn(r.db).Create(&tests).Error; err != nil {
		return nil, err
	}
	return tests, nil
}

func (r *testRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Test, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var t types.Test
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&t).Error; err != nil {
		return nil, err
	}
	if t.ID == uuid.Nil {
		return nil, nil
	}
	return &t, nil
}

func (r *testRepo) CreateQuestions(dbc dbctx.Context, qs []*types.Question) ([]*types.Question, error) {
	if len(qs) == 0 {
		return []*types.Question{}, nil
	}
	if err := dbc.Conn(r.db).Create(&qs).Error; err != nil {
		return nil, err
	}
	return qs, nil
}

func (r *testRepo) ListQuestions(dbc dbctx.Context, testID uuid.UUID) ([]*types.Question, error) {
	var out []*types.Question
	if testID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("test_id = ?", testID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type TestAttemptRepo interface {
	// Create inserts the attempt and its answer records.
	Create(dbc dbctx.Context, attempt *types.TestAttempt) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TestAttempt, error)
	HasPassed(dbc dbctx.Context, userID, testID uuid.UUID) (bool, error)
	PassedTestIDs(dbc dbctx.Context, userID uuid.UUID, testIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	ListByUserTest(dbc dbctx.Context, userID, testID uuid.UUID) ([]*types.TestAttempt, error)
	ListByUserCourse(dbc dbctx.Context, userID, courseID uuid.UUID) ([]*types.TestAttempt, error)
}

type testAttemptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTestAttemptRepo(db *gorm.DB, baseLog *logger.Logger) TestAttemptRepo {
	return &testAttemptRepo{db: db, log: baseLog.With("repo", "TestAttemptRepo")}
}

const passingCondition = "total_marks > 0 AND score * 2 >= total_marks"

func (r *testAttemptRepo) Create(dbc dbctx.Context, attempt *types.TestAttempt) error {
	if attempt == nil {
		return nil
	}
	return dbc.Conn(r.db).Create(attempt).Error
}

func (r *testAttemptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TestAttempt, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var a types.TestAttempt
	if err := dbc.Conn(r.db).
		Preload("Answers").
		Where("id = ?", id).
		Limit(1).
		Find(&a).Error; err != nil {
		return nil, err
	}
	if a.ID == uuid.Nil {
		return nil, nil
	}
	return &a, nil
}

func (r *testAttemptRepo) HasPassed(dbc dbctx.Context, userID, testID uuid.UUID) (bool, error) {
	var n int64
	if err := dbc.Conn(r.db).
		Model(&types.TestAttempt{}).
		Where("user_id = ? AND test_id = ?", userID, testID).
		Where(passingCondition).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *testAttemptRepo) PassedTestIDs(dbc dbctx.Context, userID uuid.UUID, testIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	if userID == uuid.Nil || len(testIDs) == 0 {
		return out, nil
	}
	var ids []uuid.UUID
	if err := dbc.Conn(r.db).
		Model(&types.TestAttempt{}).
		Where("user_id = ? AND test_id IN ?", userID, testIDs).
		Where(passingCondition).
		Distinct("test_id").
		Pluck("test_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *testAttemptRepo) ListByUserTest(dbc dbctx.Context, userID, testID uuid.UUID) ([]*types.TestAttempt, error) {
	var out []*types.TestAttempt
	if err := dbc.Conn(r.db).
		Preload("Answers").
		Where("user_id = ? AND test_id = ?", userID, testID).
		Order("submitted_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *testAttemptRepo) ListByUserCourse(dbc dbctx.Context, userID, courseID uuid.UUID) ([]*types.TestAttempt, error) {
	var out []*types.TestAttempt
	if err := dbc.Conn(r.db).
		Preload("Answers").
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Order("submitted_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
