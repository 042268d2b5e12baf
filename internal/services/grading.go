package services

import (
	"sort"
	"strings"
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

type SubmitResult struct {
	AttemptID uuid.UUID `json:"attemptId"`
	Score     int       `json:"score"`
	Total     int       `json:"total"`
	Passed    bool      `json:"passed"`
}

type AnswerView struct {
	QuestionID uuid.UUID `json:"questionId"`
	Question   string    `json:"question"`
	Selected   string    `json:"selected"`
	Correct    string    `json:"correct"`
	IsCorrect  bool      `json:"isCorrect"`
	Marks      int       `json:"marks"`
}

type AttemptView struct {
	AttemptID   uuid.UUID    `json:"attemptId"`
	TestID      uuid.UUID    `json:"testId"`
	TestName    string       `json:"testName"`
	Score       int          `json:"score"`
	Total       int          `json:"total"`
	Passed      bool         `json:"passed"`
	SubmittedAt time.Time    `json:"submittedAt"`
	Answers     []AnswerView `json:"answers"`
}

// ReplayResult compares a stored attempt with a regrade of its answer records.
type ReplayResult struct {
	AttemptID   uuid.UUID `json:"attemptId"`
	StoredScore int       `json:"storedScore"`
	StoredTotal int       `json:"storedTotal"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	Passed      bool      `json:"passed"`
	Matches     bool      `json:"matches"`
}

// QuestionView is a question as shown to a learner; the answer key is left out.
type QuestionView struct {
	ID      uuid.UUID         `json:"id"`
	Text    string            `json:"text"`
	Options map[string]string `json:"options"`
	Marks   int               `json:"marks"`
}

type TestView struct {
	ID         uuid.UUID      `json:"id"`
	CourseID   uuid.UUID      `json:"courseId"`
	Title      string         `json:"title"`
	TotalMarks int            `json:"totalMarks"`
	Questions  []QuestionView `json:"questions"`
	Attempts   int            `json:"attempts"`
	Passed     bool           `json:"passed"`
	// LastScore and LastTotal describe the newest attempt, if any.
	LastScore *int `json:"lastScore"`
	LastTotal *int `json:"lastTotal"`
}

type GradingService interface {
	GetTest(dbc dbctx.Context, userID, courseID, testID uuid.UUID) (*TestView, error)
	Submit(dbc dbctx.Context, userID, courseID, testID uuid.UUID, answers map[uuid.UUID]string) (*SubmitResult, error)
	History(dbc dbctx.Context, userID, courseID uuid.UUID) ([]AttemptView, error)
	Replay(dbc dbctx.Context, attemptID uuid.UUID) (*ReplayResult, error)
}

type gradingService struct {
	db          *gorm.DB
	log         *logger.Logger
	tests       repos.TestRepo
	attempts    repos.TestAttemptRepo
	enrollments repos.EnrollmentRepo
	modules     repos.ModuleItemRepo
	content     repos.ContentProgressRepo
	unlock      UnlockService
	now         func() time.Time
}

func NewGradingService(db *gorm.DB, baseLog *logger.Logger, r *repos.Repos, unlock UnlockService) GradingService {
	return &gradingService{
		db:          db,
		log:         baseLog.With("service", "GradingService"),
		tests:       r.Test,
		attempts:    r.TestAttempt,
		enrollments: r.Enrollment,
		modules:     r.ModuleItem,
		content:     r.ContentProgress,
		unlock:      unlock,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeAnswers trims and upper-cases the options chosen for questions and
// rejects anything outside A-D. Answers keyed by other question ids are
// dropped without being checked.
func NormalizeAnswers(answers map[uuid.UUID]string, questions []*types.Question) (map[uuid.UUID]string, error) {
	if len(answers) == 0 {
		return nil, apierr.Validation("answers_required", "answers are required")
	}
	out := make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		raw, ok := answers[q.ID]
		if !ok {
			continue
		}
		opt := strings.ToUpper(strings.TrimSpace(raw))
		if !learning.IsOption(opt) {
			return nil, apierr.Validation("invalid_option", "invalid option %q for question %s", raw, q.ID)
		}
		out[q.ID] = opt
	}
	return out, nil
}

// GetTest returns the questions of a test for an enrolled learner together
// with the learner's attempt state.
func (s *gradingService) GetTest(dbc dbctx.Context, userID, courseID, testID uuid.UUID) (*TestView, error) {
	enr, err := s.enrollments.Get(dbc, userID, courseID)
	if err != nil {
		return nil, err
	}
	if !enr.IsCompleted() {
		return nil, apierr.Forbidden("enrollment_required", "a paid enrollment is required to take this test")
	}
	test, err := s.tests.GetByID(dbc, testID)
	if err != nil {
		return nil, err
	}
	if test == nil || test.CourseID != courseID {
		return nil, apierr.NotFound("test_not_found", "test %s not found in course %s", testID, courseID)
	}
	questions, err := s.tests.ListQuestions(dbc, testID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByUserTest(dbc, userID, testID)
	if err != nil {
		return nil, err
	}

	out := &TestView{
		ID:        test.ID,
		CourseID:  test.CourseID,
		Title:     test.Title,
		Questions: make([]QuestionView, 0, len(questions)),
		Attempts:  len(attempts),
	}
	for _, q := range questions {
		out.TotalMarks += q.Marks
		out.Questions = append(out.Questions, QuestionView{
			ID:   q.ID,
			Text: q.Text,
			Options: map[string]string{
				"A": q.OptionA,
				"B": q.OptionB,
				"C": q.OptionC,
				"D": q.OptionD,
			},
			Marks: q.Marks,
		})
	}
	for _, a := range attempts {
		if a.Passed() {
			out.Passed = true
		}
	}
	if len(attempts) > 0 {
		score, total := attempts[0].Score, attempts[0].TotalMarks
		out.LastScore, out.LastTotal = &score, &total
	}
	return out, nil
}

func (s *gradingService) Submit(dbc dbctx.Context, userID, courseID, testID uuid.UUID, answers map[uuid.UUID]string) (*SubmitResult, error) {
	var out *SubmitResult
	err := withTx(dbc, s.db, func(txc dbctx.Context) error {
		// Serialises concurrent submissions by the same learner.
		enr, err := s.enrollments.GetForUpdate(txc, userID, courseID)
		if err != nil {
			return err
		}
		if !enr.IsCompleted() {
			return apierr.Forbidden("enrollment_required", "a paid enrollment is required to take this test")
		}
		test, err := s.tests.GetByID(txc, testID)
		if err != nil {
			return err
		}
		if test == nil || test.CourseID != courseID {
			return apierr.NotFound("test_not_found", "test %s not found in course %s", testID, courseID)
		}
		passed, err := s.attempts.HasPassed(txc, userID, testID)
		if err != nil {
			return err
		}
		if passed {
			return apierr.Forbidden("test_already_passed", "test already passed")
		}
		questions, err := s.tests.ListQuestions(txc, testID)
		if err != nil {
			return err
		}
		normalized, err := NormalizeAnswers(answers, questions)
		if err != nil {
			return err
		}

		now := s.now()
		attempt := &types.TestAttempt{
			ID:          uuid.New(),
			UserID:      userID,
			TestID:      testID,
			CourseID:    courseID,
			SubmittedAt: now,
		}
		for _, q := range questions {
			selected, ok := normalized[q.ID]
			if !ok {
				continue
			}
			rec := gradeAnswer(q, selected)
			rec.AttemptID = attempt.ID
			rec.CreatedAt = now
			attempt.Score += rec.MarksAwarded
			attempt.TotalMarks += q.Marks
			attempt.Answers = append(attempt.Answers, rec)
		}
		if err := s.attempts.Create(txc, attempt); err != nil {
			return err
		}

		out = &SubmitResult{
			AttemptID: attempt.ID,
			Score:     attempt.Score,
			Total:     attempt.TotalMarks,
			Passed:    attempt.Passed(),
		}
		if !out.Passed {
			return nil
		}
		mod, err := s.modules.GetByTestID(txc, testID)
		if err != nil {
			return err
		}
		if mod == nil {
			return nil
		}
		if err := s.content.MarkCompleted(txc, userID, mod.ID, now); err != nil {
			return err
		}
		return s.unlock.OnModuleCompleted(txc, userID, mod.ID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Test submitted",
		"user_id", userID,
		"test_id", testID,
		"score", out.Score,
		"total", out.Total,
		"passed", out.Passed,
	)
	return out, nil
}

func gradeAnswer(q *types.Question, selected string) *types.AnswerRecord {
	rec := &types.AnswerRecord{
		ID:         uuid.New(),
		QuestionID: q.ID,
		Selected:   selected,
		IsCorrect:  selected == q.CorrectAnswer,
	}
	if rec.IsCorrect {
		rec.MarksAwarded = q.Marks
	}
	return rec
}

func (s *gradingService) History(dbc dbctx.Context, userID, courseID uuid.UUID) ([]AttemptView, error) {
	attempts, err := s.attempts.ListByUserCourse(dbc, userID, courseID)
	if err != nil {
		return nil, err
	}
	out := make([]AttemptView, 0, len(attempts))
	tests := map[uuid.UUID]*types.Test{}
	questions := map[uuid.UUID]*types.Question{}
	for _, a := range attempts {
		t, ok := tests[a.TestID]
		if !ok {
			if t, err = s.tests.GetByID(dbc, a.TestID); err != nil {
				return nil, err
			}
			tests[a.TestID] = t
			qs, err := s.tests.ListQuestions(dbc, a.TestID)
			if err != nil {
				return nil, err
			}
			for _, q := range qs {
				questions[q.ID] = q
			}
		}
		v := AttemptView{
			AttemptID:   a.ID,
			TestID:      a.TestID,
			Score:       a.Score,
			Total:       a.TotalMarks,
			Passed:      a.Passed(),
			SubmittedAt: a.SubmittedAt,
			Answers:     make([]AnswerView, 0, len(a.Answers)),
		}
		if t != nil {
			v.TestName = t.Title
		}
		for _, rec := range a.Answers {
			av := AnswerView{
				QuestionID: rec.QuestionID,
				Selected:   rec.Selected,
				IsCorrect:  rec.IsCorrect,
				Marks:      rec.MarksAwarded,
			}
			if q := questions[rec.QuestionID]; q != nil {
				av.Question = q.Text
				av.Correct = q.CorrectAnswer
			}
			v.Answers = append(v.Answers, av)
		}
		sort.SliceStable(v.Answers, func(i, j int) bool {
			return v.Answers[i].QuestionID.String() < v.Answers[j].QuestionID.String()
		})
		out = append(out, v)
	}
	return out, nil
}

func (s *gradingService) Replay(dbc dbctx.Context, attemptID uuid.UUID) (*ReplayResult, error) {
	a, err := s.attempts.GetByID(dbc, attemptID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apierr.NotFound("attempt_not_found", "attempt %s not found", attemptID)
	}
	qs, err := s.tests.ListQuestions(dbc, a.TestID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	out := &ReplayResult{AttemptID: a.ID, StoredScore: a.Score, StoredTotal: a.TotalMarks}
	for _, rec := range a.Answers {
		q := byID[rec.QuestionID]
		if q == nil {
			continue
		}
		out.Score += gradeAnswer(q, rec.Selected).MarksAwarded
		out.Total += q.Marks
	}
	out.Passed = learning.IsPassing(out.Score, out.Total)
	out.Matches = out.Score == a.Score && out.Total == a.TotalMarks
	return out, nil
}
