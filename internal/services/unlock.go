package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/platform/apierr"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

// ModuleView is one row of a learner's course outline.
type ModuleView struct {
	ModuleID    uuid.UUID `json:"moduleId"`
	Kind        string    `json:"kind"`
	Order       int       `json:"order"`
	Title       string    `json:"title"`
	ItemID      uuid.UUID `json:"itemId"`
	Unlocked    bool      `json:"unlocked"`
	Completed   bool      `json:"completed"`
	Stage       string    `json:"stage,omitempty"`
	PlaybackURL string    `json:"playbackUrl,omitempty"`
	Ready       bool      `json:"ready,omitempty"`
}

type UnlockService interface {
	EnsureFirstModuleUnlocked(dbc dbctx.Context, userID, courseID uuid.UUID) error
	// OnModuleCompleted advances the frontier past moduleID. Callers pass the
	// transaction that wrote the completion.
	OnModuleCompleted(dbc dbctx.Context, userID, moduleID uuid.UUID) error
	ComputeModuleView(dbc dbctx.Context, userID, courseID uuid.UUID) ([]ModuleView, error)
}

type unlockService struct {
	db          *gorm.DB
	log         *logger.Logger
	modules     repos.ModuleItemRepo
	enrollments repos.EnrollmentRepo
	content     repos.ContentProgressRepo
	unlocks     repos.ModuleUnlockRepo
	attempts    repos.TestAttemptRepo
	videos      repos.VideoAssetRepo
	now         func() time.Time
}

func NewUnlockService(db *gorm.DB, baseLog *logger.Logger, r *repos.Repos) UnlockService {
	return &unlockService{
		db:          db,
		log:         baseLog.With("service", "UnlockService"),
		modules:     r.ModuleItem,
		enrollments: r.Enrollment,
		content:     r.ContentProgress,
		unlocks:     r.ModuleUnlock,
		attempts:    r.TestAttempt,
		videos:      r.VideoAsset,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *unlockService) EnsureFirstModuleUnlocked(dbc dbctx.Context, userID, courseID uuid.UUID) error {
	enr, err := s.enrollments.Get(dbc, userID, courseID)
	if err != nil {
		return err
	}
	if enr == nil {
		return apierr.NotFound("enrollment_not_found", "no enrollment for course %s", courseID)
	}
	first, err := s.modules.GetFirst(dbc, courseID)
	if err != nil {
		return err
	}
	if first == nil {
		return nil
	}
	unlocked, err := s.unlocks.UnlockedModuleIDs(dbc, userID, []uuid.UUID{first.ID})
	if err != nil {
		return err
	}
	if unlocked[first.ID] {
		return nil
	}
	return s.unlocks.Unlock(dbc, userID, first.ID, s.now())
}

func (s *unlockService) OnModuleCompleted(dbc dbctx.Context, userID, moduleID uuid.UUID) error {
	mod, err := s.modules.GetByID(dbc, moduleID)
	if err != nil {
		return err
	}
	if mod == nil {
		return apierr.NotFound("module_not_found", "module %s not found", moduleID)
	}
	enr, err := s.enrollments.Get(dbc, userID, mod.CourseID)
	if err != nil {
		return err
	}
	if enr == nil {
		return apierr.NotFound("enrollment_not_found", "no enrollment for course %s", mod.CourseID)
	}

	now := s.now()
	next, err := s.modules.GetNext(dbc, mod.CourseID, mod.Order)
	if err != nil {
		return err
	}
	if next != nil {
		if err := s.unlocks.Unlock(dbc, userID, next.ID, now); err != nil {
			return err
		}
		s.log.Debug("Module unlocked", "user_id", userID, "module_id", next.ID, "order", next.Order)
		return nil
	}
	if err := s.enrollments.MarkCourseCompleted(dbc, enr.ID, now); err != nil {
		return err
	}
	s.log.Info("Course completed", "user_id", userID, "course_id", mod.CourseID)
	return nil
}

func (s *unlockService) ComputeModuleView(dbc dbctx.Context, userID, courseID uuid.UUID) ([]ModuleView, error) {
	enr, err := s.enrollments.Get(dbc, userID, courseID)
	if err != nil {
		return nil, err
	}
	if enr == nil {
		return nil, apierr.NotFound("enrollment_not_found", "no enrollment for course %s", courseID)
	}
	mods, err := s.modules.ListByCourse(dbc, courseID)
	if err != nil {
		return nil, err
	}
	out := make([]ModuleView, 0, len(mods))
	if len(mods) == 0 {
		return out, nil
	}

	moduleIDs := make([]uuid.UUID, 0, len(mods))
	var testIDs, videoIDs []uuid.UUID
	for _, m := range mods {
		moduleIDs = append(moduleIDs, m.ID)
		switch {
		case m.Kind == learning.ModuleKindTest && m.TestID != nil:
			testIDs = append(testIDs, *m.TestID)
		case m.Kind == learning.ModuleKindVideo && m.VideoID != nil:
			videoIDs = append(videoIDs, *m.VideoID)
		}
	}
	completed, err := s.content.CompletedModuleIDs(dbc, userID, moduleIDs)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.unlocks.UnlockedModuleIDs(dbc, userID, moduleIDs)
	if err != nil {
		return nil, err
	}
	passed, err := s.attempts.PassedTestIDs(dbc, userID, testIDs)
	if err != nil {
		return nil, err
	}
	assets, err := s.videos.GetByIDs(dbc, videoIDs)
	if err != nil {
		return nil, err
	}
	byVideo := make(map[uuid.UUID]*types.VideoAsset, len(assets))
	for _, a := range assets {
		byVideo[a.ID] = a
	}

	var missing []uuid.UUID
	prevDone := false
	for i, m := range mods {
		v := ModuleView{
			ModuleID: m.ID,
			Kind:     m.Kind,
			Order:    m.Order,
			Title:    m.Title,
		}
		done := completed[m.ID]
		switch m.Kind {
		case learning.ModuleKindTest:
			if m.TestID != nil {
				v.ItemID = *m.TestID
				done = done || passed[*m.TestID]
			}
		case learning.ModuleKindVideo:
			if m.VideoID != nil {
				v.ItemID = *m.VideoID
				if a := byVideo[*m.VideoID]; a != nil {
					v.Stage = a.Stage
					v.Ready = a.IsReady()
					if a.PlaybackURL != nil {
						v.PlaybackURL = *a.PlaybackURL
					}
				}
			}
		}
		v.Completed = done
		v.Unlocked = i == 0 || unlocked[m.ID] || prevDone
		if v.Unlocked && !unlocked[m.ID] {
			missing = append(missing, m.ID)
		}
		prevDone = done
		out = append(out, v)
	}

	if len(missing) > 0 {
		now := s.now()
		err := withTx(dbc, s.db, func(txc dbctx.Context) error {
			for _, id := range missing {
				if err := s.unlocks.Unlock(txc, userID, id, now); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("Reconciled unlock rows", "user_id", userID, "course_id", courseID, "count", len(missing))
	}
	return out, nil
}
