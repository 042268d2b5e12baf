package certificates

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexston/bekola-backend/internal/data/db"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/certificates"
	"github.com/nexston/bekola-backend/internal/platform/ctxutil"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type CertificateRequestRepo interface {
	// Upsert keeps one request per (user, course); a re-submit overwrites the
	// artifact, proof link and reference of the existing row.
	Upsert(dbc dbctx.Context, req *types.CertificateRequest) (*types.CertificateRequest, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CertificateRequest, error)
	GetByUserCourse(dbc dbctx.Context, userID, courseID uuid.UUID) (*types.CertificateRequest, error)
	// GetForUpdateSkipLocked returns nil when the row is gone or another
	// transaction holds it.
	GetForUpdateSkipLocked(dbc dbctx.Context, id uuid.UUID) (*types.CertificateRequest, error)
	ListAll(dbc dbctx.Context) ([]*types.CertificateRequest, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type certificateRequestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCertificateRequestRepo(db *gorm.DB, baseLog *logger.Logger) CertificateRequestRepo {
	return &certificateRequestRepo{db: db, log: baseLog.With("repo", "CertificateRequestRepo")}
}

func (r *certificateRequestRepo) Upsert(dbc dbctx.Context, req *types.CertificateRequest) (*types.CertificateRequest, error) {
	if req == nil || req.UserID == uuid.Nil || req.CourseID == uuid.Nil {
		return nil, fmt.Errorf("certificate request requires user and course")
	}
	conn := dbc.Conn(r.db)
	update := func(existing *types.CertificateRequest) (*types.CertificateRequest, error) {
		now := time.Now().UTC()
		if err := conn.Model(&types.CertificateRequest{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"file_name":    req.FileName,
				"artifact_key": req.ArtifactKey,
				"proof_link":   req.ProofLink,
				"reference_no": req.ReferenceNo,
				"updated_at":   now,
			}).Error; err != nil {
			return nil, err
		}
		existing.FileName = req.FileName
		existing.ArtifactKey = req.ArtifactKey
		existing.ProofLink = req.ProofLink
		existing.ReferenceNo = req.ReferenceNo
		existing.UpdatedAt = now
		return existing, nil
	}

	existing, err := r.GetByUserCourse(dbc, req.UserID, req.CourseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return update(existing)
	}

	row := &types.CertificateRequest{
		UserID:      req.UserID,
		CourseID:    req.CourseID,
		FileName:    req.FileName,
		ArtifactKey: req.ArtifactKey,
		ProofLink:   req.ProofLink,
		ReferenceNo: req.ReferenceNo,
	}
	err = conn.Create(row).Error
	if err == nil {
		return row, nil
	}
	if !db.IsUniqueViolation(err) || dbc.Tx != nil {
		return nil, err
	}
	// Lost an insert race outside a transaction; the winner's row is there now.
	existing, gerr := r.GetByUserCourse(dbc, req.UserID, req.CourseID)
	if gerr != nil || existing == nil {
		return nil, err
	}
	return update(existing)
}

func (r *certificateRequestRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.CertificateRequest, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return firstRequest(dbc.Conn(r.db).Where("id = ?", id))
}

func (r *certificateRequestRepo) GetByUserCourse(dbc dbctx.Context, userID, courseID uuid.UUID) (*types.CertificateRequest, error) {
	if userID == uuid.Nil || courseID == uuid.Nil {
		return nil, nil
	}
	return firstRequest(dbc.Conn(r.db).Where("user_id = ? AND course_id = ?", userID, courseID))
}

func (r *certificateRequestRepo) GetForUpdateSkipLocked(dbc dbctx.Context, id uuid.UUID) (*types.CertificateRequest, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return firstRequest(dbc.Conn(r.db).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("id = ?", id))
}

func (r *certificateRequestRepo) ListAll(dbc dbctx.Context) ([]*types.CertificateRequest, error) {
	var out []*types.CertificateRequest
	if err := dbc.Conn(r.db).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *certificateRequestRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).Where("id = ?", id).Delete(&types.CertificateRequest{}).Error
}

func firstRequest(q *gorm.DB) (*types.CertificateRequest, error) {
	var row types.CertificateRequest
	if err := q.Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

type CertificateRepo interface {
	// Upsert writes the issued certificate, overwriting a prior row for the
	// same (user, course).
	Upsert(dbc dbctx.Context, cert *types.Certificate) error
	GetByUserCourse(dbc dbctx.Context, userID, courseID uuid.UUID) (*types.Certificate, error)
	Exists(dbc dbctx.Context, userID, courseID uuid.UUID) (bool, error)
}

type certificateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCertificateRepo(db *gorm.DB, baseLog *logger.Logger) CertificateRepo {
	return &certificateRepo{db: db, log: baseLog.With("repo", "CertificateRepo")}
}

func (r *certificateRepo) Upsert(dbc dbctx.Context, cert *types.Certificate) error {
	if cert == nil {
		return nil
	}
	if cert.IssuedAt.IsZero() {
		cert.IssuedAt = time.Now().UTC()
	}
	return dbc.Conn(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"artifact_key",
			"proof_link",
			"reference_no",
			"issued_at",
			"updated_at",
		}),
	}).Create(cert).Error
}

func (r *certificateRepo) GetByUserCourse(dbc dbctx.Context, userID, courseID uuid.UUID) (*types.Certificate, error) {
	if userID == uuid.Nil || courseID == uuid.Nil {
		return nil, nil
	}
	var c types.Certificate
	if err := dbc.Conn(r.db).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Limit(1).
		Find(&c).Error; err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil {
		return nil, nil
	}
	return &c, nil
}

func (r *certificateRepo) Exists(dbc dbctx.Context, userID, courseID uuid.UUID) (bool, error) {
	var n int64
	if err := dbc.Conn(r.db).
		Model(&types.Certificate{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

type SequenceRepo interface {
	// Next atomically increments and returns the certificate counter. The
	// first number handed out is 1.
	Next(dbc dbctx.Context) (int, error)
	Current(dbc dbctx.Context) (int, error)
}

type sequenceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSequenceRepo(db *gorm.DB, baseLog *logger.Logger) SequenceRepo {
	return &sequenceRepo{db: db, log: baseLog.With("repo", "SequenceRepo")}
}

func (r *sequenceRepo) Next(dbc dbctx.Context) (int, error) {
	if dbc.Tx != nil {
		return r.next(dbc.Tx)
	}
	var n int
	err := r.db.WithContext(ctxutil.Default(dbc.Ctx)).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = r.next(tx)
		return err
	})
	return n, err
}

func (r *sequenceRepo) next(tx *gorm.DB) (int, error) {
	now := time.Now().UTC()
	bump := func() *gorm.DB {
		return tx.Model(&types.CertificateSequence{}).
			Where("id = ?", certificates.SequenceRowID).
			Updates(map[string]interface{}{
				"last_number": gorm.Expr("last_number + 1"),
				"updated_at":  now,
			})
	}
	res := bump()
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		seed := &types.CertificateSequence{ID: certificates.SequenceRowID, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return 0, err
		}
		if res = bump(); res.Error != nil {
			return 0, res.Error
		}
	}
	var row types.CertificateSequence
	if err := tx.Where("id = ?", certificates.SequenceRowID).Take(&row).Error; err != nil {
		return 0, err
	}
	return row.LastNumber, nil
}

func (r *sequenceRepo) Current(dbc dbctx.Context) (int, error) {
	var row types.CertificateSequence
	if err := dbc.Conn(r.db).
		Where("id = ?", certificates.SequenceRowID).
		Limit(1).
		Find(&row).Error; err != nil {
		return 0, err
	}
	return row.LastNumber, nil
}
