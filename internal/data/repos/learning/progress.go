package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexston/bekola-backend/internal/data/db"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type VideoProgressRepo interface {
	Get(dbc dbctx.Context, userID, videoID uuid.UUID) (*types.VideoProgress, error)
	// GetOrCreateForUpdate lazily creates the row and returns it locked.
	GetOrCreateForUpdate(dbc dbctx.Context, userID, videoID uuid.UUID) (*types.VideoProgress, error)
	Save(dbc dbctx.Context, p *types.VideoProgress) error
}

type videoProgressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoProgressRepo(db *gorm.DB, baseLog *logger.Logger) VideoProgressRepo {
	return &videoProgressRepo{db: db, log: baseLog.With("repo", "VideoProgressRepo")}
}

func (r *videoProgressRepo) Get(dbc dbctx.Context, userID, videoID uuid.UUID) (*types.VideoProgress, error) {
	return r.get(dbc.Conn(r.db), userID, videoID)
}

func (r *videoProgressRepo) get(q *gorm.DB, userID, videoID uuid.UUID) (*types.VideoProgress, error) {
	if userID == uuid.Nil || videoID == uuid.Nil {
		return nil, nil
	}
	var p types.VideoProgress
	if err := q.Where("user_id = ? AND video_id = ?", userID, videoID).Limit(1).Find(&p).Error; err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *videoProgressRepo) GetOrCreateForUpdate(dbc dbctx.Context, userID, videoID uuid.UUID) (*types.VideoProgress, error) {
	conn := dbc.Conn(r.db)
	locked := func() (*types.VideoProgress, error) {
		return r.get(conn.Clauses(clause.Locking{Strength: "UPDATE"}), userID, videoID)
	}

	p, err := locked()
	if err != nil || p != nil {
		return p, err
	}

	row := &types.VideoProgress{UserID: userID, VideoID: videoID}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil && !db.IsUniqueViolation(err) {
		return nil, err
	}
	return locked()
}

func (r *videoProgressRepo) Save(dbc dbctx.Context, p *types.VideoProgress) error {
	if p == nil || p.ID == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.VideoProgress{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"watched_seconds": p.WatchedSeconds,
			"last_position":   p.LastPosition,
			"is_completed":    p.IsCompleted,
			"completed_at":    p.CompletedAt,
			"updated_at":      time.Now().UTC(),
		}).Error
}

type ContentProgressRepo interface {
	// MarkCompleted upserts a completed row; an existing completed_at is kept.
	MarkCompleted(dbc dbctx.Context, userID, moduleID uuid.UUID, at time.Time) error
	CompletedModuleIDs(dbc dbctx.Context, userID uuid.UUID, moduleIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

type contentProgressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentProgressRepo(db *gorm.DB, baseLog *logger.Logger) ContentProgressRepo {
	return &contentProgressRepo{db: db, log: baseLog.With("repo", "ContentProgressRepo")}
}

func (r *contentProgressRepo) MarkCompleted(dbc dbctx.Context, userID, moduleID uuid.UUID, at time.Time) error {
	if userID == uuid.Nil || moduleID == uuid.Nil {
		return nil
	}
	row := &types.ContentProgress{
		UserID:      userID,
		ModuleID:    moduleID,
		IsCompleted: true,
		CompletedAt: &at,
	}
	return dbc.Conn(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "module_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_completed": true,
			"completed_at": gorm.Expr("COALESCE(content_progress.completed_at, ?)", at),
			"updated_at":   at,
		}),
	}).Create(row).Error
}

func (r *contentProgressRepo) CompletedModuleIDs(dbc dbctx.Context, userID uuid.UUID, moduleIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	if userID == uuid.Nil || len(moduleIDs) == 0 {
		return out, nil
	}
	var rows []*types.ContentProgress
	if err := dbc.Conn(r.db).
		Where("user_id = ? AND module_id IN ? AND is_completed = ?", userID, moduleIDs, true).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ModuleID] = true
	}
	return out, nil
}

type ModuleUnlockRepo interface {
	// Unlock upserts is_unlocked=true; an existing unlocked_at is kept.
	Unlock(dbc dbctx.Context, userID, moduleID uuid.UUID, at time.Time) error
	UnlockedModuleIDs(dbc dbctx.Context, userID uuid.UUID, moduleIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

type moduleUnlockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModuleUnlockRepo(db *gorm.DB, baseLog *logger.Logger) ModuleUnlockRepo {
	return &moduleUnlockRepo{db: db, log: baseLog.With("repo", "ModuleUnlockRepo")}
}

func (r *moduleUnlockRepo) Unlock(dbc dbctx.Context, userID, moduleID uuid.UUID, at time.Time) error {
	if userID == uuid.Nil || moduleID == uuid.Nil {
		return nil
	}
	row := &types.ModuleUnlock{
		UserID:     userID,
		ModuleID:   moduleID,
		IsUnlocked: true,
		UnlockedAt: &at,
	}
	return dbc.Conn(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "module_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_unlocked": true,
			"unlocked_at": gorm.Expr("COALESCE(module_unlock.unlocked_at, ?)", at),
			"updated_at":  at,
		}),
	}).Create(row).Error
}

func (r *moduleUnlockRepo) UnlockedModuleIDs(dbc dbctx.Context, userID uuid.UUID, moduleIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	if userID == uuid.Nil || len(moduleIDs) == 0 {
		return out, nil
	}
	var rows []*types.ModuleUnlock
	if err := dbc.Conn(r.db).
		Where("user_id = ? AND module_id IN ? AND is_unlocked = ?", userID, moduleIDs, true).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ModuleID] = true
	}
	return out, nil
}
