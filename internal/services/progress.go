package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/platform/apierr"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/envutil"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

const (
	ProgressModeTrusted = "trusted"
	ProgressModeDelta   = "delta"
)

type ProgressConfig struct {
	// Mode is trusted (watched = max position) or delta (accumulate forward
	// steps no larger than MaxForwardSkip).
	Mode            string  `yaml:"mode"`
	MaxForwardSkip  float64 `yaml:"max_forward_skip_seconds"`
	CompletionRatio float64 `yaml:"completion_ratio"`
}

func ProgressConfigFromEnv() ProgressConfig {
	return ProgressConfig{
		Mode:            strings.ToLower(envutil.String("VIDEO_PROGRESS_MODE", ProgressModeDelta)),
		MaxForwardSkip:  envutil.Float("VIDEO_MAX_FORWARD_SKIP_SECONDS", 1800),
		CompletionRatio: envutil.Float("VIDEO_COMPLETION_RATIO", 0.9),
	}
}

func (c ProgressConfig) Validate() error {
	switch c.Mode {
	case ProgressModeTrusted, ProgressModeDelta:
	default:
		return fmt.Errorf("invalid VIDEO_PROGRESS_MODE=%q (allowed: trusted, delta)", c.Mode)
	}
	if c.MaxForwardSkip <= 0 {
		return fmt.Errorf("VIDEO_MAX_FORWARD_SKIP_SECONDS must be > 0")
	}
	if c.CompletionRatio <= 0 || c.CompletionRatio > 1 {
		return fmt.Errorf("VIDEO_COMPLETION_RATIO must be in (0, 1]")
	}
	return nil
}

type ProgressResult struct {
	VideoID        uuid.UUID  `json:"videoId"`
	WatchedSeconds float64    `json:"watchedSeconds"`
	LastPosition   float64    `json:"lastPosition"`
	IsCompleted    bool       `json:"isCompleted"`
	Percent        float64    `json:"percent"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

type ProgressService interface {
	ReportProgress(dbc dbctx.Context, userID, videoID uuid.UUID, position float64) (*ProgressResult, error)
	GetProgress(dbc dbctx.Context, userID, videoID uuid.UUID) (*ProgressResult, error)
}

type progressService struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         ProgressConfig
	videos      repos.VideoAssetRepo
	enrollments repos.EnrollmentRepo
	modules     repos.ModuleItemRepo
	progress    repos.VideoProgressRepo
	content     repos.ContentProgressRepo
	unlock      UnlockService
	now         func() time.Time
}

func NewProgressService(db *gorm.DB, baseLog *logger.Logger, r *repos.Repos, unlock UnlockService, cfg ProgressConfig) (ProgressService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &progressService{
		db:          db,
		log:         baseLog.With("service", "ProgressService"),
		cfg:         cfg,
		videos:      r.VideoAsset,
		enrollments: r.Enrollment,
		modules:     r.ModuleItem,
		progress:    r.VideoProgress,
		content:     r.ContentProgress,
		unlock:      unlock,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *progressService) ReportProgress(dbc dbctx.Context, userID, videoID uuid.UUID, position float64) (*ProgressResult, error) {
	if math.IsNaN(position) || math.IsInf(position, 0) {
		return nil, apierr.Validation("invalid_position", "position must be a finite number")
	}
	video, err := s.authorize(dbc, userID, videoID)
	if err != nil {
		return nil, err
	}
	duration := video.Duration()

	var out *ProgressResult
	err = withTx(dbc, s.db, func(txc dbctx.Context) error {
		p, err := s.progress.GetOrCreateForUpdate(txc, userID, videoID)
		if err != nil {
			return err
		}
		newlyCompleted := s.apply(p, position, duration)
		if newlyCompleted {
			if err := s.completeModule(txc, userID, videoID, *p.CompletedAt); err != nil {
				return err
			}
		}
		if err := s.progress.Save(txc, p); err != nil {
			return err
		}
		out = toProgressResult(p, duration)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// apply folds one playhead report into p and reports whether it crossed the
// completion threshold.
func (s *progressService) apply(p *types.VideoProgress, position, duration float64) bool {
	pos := math.Max(0, position)
	if duration > 0 {
		pos = math.Min(pos, duration)
	}

	before := p.LastPosition
	switch s.cfg.Mode {
	case ProgressModeTrusted:
		p.WatchedSeconds = math.Max(p.WatchedSeconds, pos)
	default:
		if delta := pos - before; delta > 0 && delta <= s.cfg.MaxForwardSkip {
			p.WatchedSeconds += delta
		}
	}
	p.LastPosition = math.Max(before, pos)
	if duration > 0 {
		p.WatchedSeconds = math.Min(p.WatchedSeconds, duration)
	}

	if p.IsCompleted || duration <= 0 || p.WatchedSeconds < s.cfg.CompletionRatio*duration {
		return false
	}
	now := s.now()
	p.IsCompleted = true
	p.CompletedAt = &now
	p.WatchedSeconds = duration
	p.LastPosition = duration
	return true
}

func (s *progressService) completeModule(dbc dbctx.Context, userID, videoID uuid.UUID, at time.Time) error {
	mod, err := s.modules.GetByVideoID(dbc, videoID)
	if err != nil {
		return err
	}
	if mod == nil {
		// Video not placed in any module; nothing to advance.
		return nil
	}
	if err := s.content.MarkCompleted(dbc, userID, mod.ID, at); err != nil {
		return err
	}
	if err := s.unlock.OnModuleCompleted(dbc, userID, mod.ID); err != nil {
		return err
	}
	s.log.Info("Video completed", "user_id", userID, "video_id", videoID, "module_id", mod.ID)
	return nil
}

func (s *progressService) GetProgress(dbc dbctx.Context, userID, videoID uuid.UUID) (*ProgressResult, error) {
	video, err := s.authorize(dbc, userID, videoID)
	if err != nil {
		return nil, err
	}
	p, err := s.progress.Get(dbc, userID, videoID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &types.VideoProgress{UserID: userID, VideoID: videoID}
	}
	return toProgressResult(p, video.Duration()), nil
}

func (s *progressService) authorize(dbc dbctx.Context, userID, videoID uuid.UUID) (*types.VideoAsset, error) {
	video, err := s.videos.GetByID(dbc, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, apierr.NotFound("video_not_found", "video %s not found", videoID)
	}
	enr, err := s.enrollments.Get(dbc, userID, video.CourseID)
	if err != nil {
		return nil, err
	}
	if enr == nil {
		return nil, apierr.Forbidden("not_enrolled", "not enrolled in course %s", video.CourseID)
	}
	return video, nil
}

func toProgressResult(p *types.VideoProgress, duration float64) *ProgressResult {
	out := &ProgressResult{
		VideoID:        p.VideoID,
		WatchedSeconds: p.WatchedSeconds,
		LastPosition:   p.LastPosition,
		IsCompleted:    p.IsCompleted,
		CompletedAt:    p.CompletedAt,
	}
	if duration > 0 {
		pct := p.WatchedSeconds / duration * 100
		out.Percent = math.Round(math.Min(pct, 100)*100) / 100
	}
	return out
}
