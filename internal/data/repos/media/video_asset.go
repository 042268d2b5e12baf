package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/media"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type VideoAssetRepo interface {
	Create(dbc dbctx.Context, assets []*types.VideoAsset) ([]*types.VideoAsset, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VideoAsset, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.VideoAsset, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateProgressIfConverting only moves progress forward and only while the
	// asset is still in the converting stage. Reports whether a row changed.
	UpdateProgressIfConverting(dbc dbctx.Context, id uuid.UUID, pct int) (bool, error)
	AppendLog(dbc dbctx.Context, id uuid.UUID, line string) error
}

type videoAssetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoAssetRepo(db *gorm.DB, baseLog *logger.Logger) VideoAssetRepo {
	return &videoAssetRepo{db: db, log: baseLog.With("repo", "VideoAssetRepo")}
}

func (r *videoAssetRepo) Create(dbc dbctx.Context, assets []*types.VideoAsset) ([]*types.VideoAsset, error) {
	if len(assets) == 0 {
		return []*types.VideoAsset{}, nil
	}
	if err := dbc.Conn(r.db).Create(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *videoAssetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VideoAsset, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var v types.VideoAsset
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&v).Error; err != nil {
		return nil, err
	}
	if v.ID == uuid.Nil {
		return nil, nil
	}
	return &v, nil
}

func (r *videoAssetRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.VideoAsset, error) {
	var out []*types.VideoAsset
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoAssetRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Conn(r.db).
		Model(&types.VideoAsset{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *videoAssetRepo) UpdateProgressIfConverting(dbc dbctx.Context, id uuid.UUID, pct int) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := dbc.Conn(r.db).
		Model(&types.VideoAsset{}).
		Where("id = ? AND stage = ? AND progress < ?", id, media.StageConverting, pct).
		Updates(map[string]interface{}{
			"progress":   pct,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *videoAssetRepo) AppendLog(dbc dbctx.Context, id uuid.UUID, line string) error {
	if id == uuid.Nil || line == "" {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.VideoAsset{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"log":        gorm.Expr("COALESCE(log, '') || ?", line),
			"updated_at": time.Now().UTC(),
		}).Error
}
