package learning

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type ModuleItemRepo interface {
	Create(dbc dbctx.Context, items []*types.ModuleItem) ([]*types.ModuleItem, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ModuleItem, error)
	ListByCourse(dbc dbctx.Context, courseID uuid.UUID) ([]*types.ModuleItem, error)
	GetFirst(dbc dbctx.Context, courseID uuid.UUID) (*types.ModuleItem, error)
	GetNext(dbc dbctx.Context, courseID uuid.UUID, afterOrder int) (*types.ModuleItem, error)
	GetByVideoID(dbc dbctx.Context, videoID uuid.UUID) (*types.ModuleItem, error)
	GetByTestID(dbc dbctx.Context, testID uuid.UUID) (*types.ModuleItem, error)
}

type moduleItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModuleItemRepo(db *gorm.DB, baseLog *logger.Logger) ModuleItemRepo {
	return &moduleItemRepo{db: db, log: baseLog.With("repo", "ModuleItemRepo")}
}

func (r *moduleItemRepo) Create(dbc dbctx.Context, items []*types.ModuleItem) ([]*types.ModuleItem, error) {
	if len(items) == 0 {
		return []*types.ModuleItem{}, nil
	}
	if err := dbc.Conn(r.db).Create(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *moduleItemRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ModuleItem, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc.Conn(r.db).Where("id = ?", id))
}

func (r *moduleItemRepo) ListByCourse(dbc dbctx.Context, courseID uuid.UUID) ([]*types.ModuleItem, error) {
	var out []*types.ModuleItem
	if courseID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("course_id = ?", courseID).
		Order("sort_order ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *moduleItemRepo) GetFirst(dbc dbctx.Context, courseID uuid.UUID) (*types.ModuleItem, error) {
	return r.first(dbc.Conn(r.db).Where("course_id = ?", courseID).Order("sort_order ASC"))
}

// GetNext returns the module with the smallest order strictly greater than
// afterOrder, or nil when afterOrder is the last.
func (r *moduleItemRepo) GetNext(dbc dbctx.Context, courseID uuid.UUID, afterOrder int) (*types.ModuleItem, error) {
	return r.first(dbc.Conn(r.db).
		Where("course_id = ? AND sort_order > ?", courseID, afterOrder).
		Order("sort_order ASC"))
}

func (r *moduleItemRepo) GetByVideoID(dbc dbctx.Context, videoID uuid.UUID) (*types.ModuleItem, error) {
	if videoID == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc.Conn(r.db).Where("video_id = ?", videoID).Order("sort_order ASC"))
}

func (r *moduleItemRepo) GetByTestID(dbc dbctx.Context, testID uuid.UUID) (*types.ModuleItem, error) {
	if testID == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc.Conn(r.db).Where("test_id = ?", testID).Order("sort_order ASC"))
}

func (r *moduleItemRepo) first(q *gorm.DB) (*types.ModuleItem, error) {
	var m types.ModuleItem
	if err := q.Limit(1).Find(&m).Error; err != nil {
		return nil, err
	}
	if m.ID == uuid.Nil {
		return nil, nil
	}
	return &m, nil
}
