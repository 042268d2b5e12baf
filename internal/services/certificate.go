package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/observability"
	"github.com/nexston/bekola-backend/internal/platform/apierr"
	"github.com/nexston/bekola-backend/internal/platform/certrender"
	"github.com/nexston/bekola-backend/internal/platform/ctxutil"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/envutil"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/platform/mailer"
	"github.com/nexston/bekola-backend/internal/platform/objectstore"
	"github.com/nexston/bekola-backend/internal/realtime"
	"github.com/nexston/bekola-backend/internal/realtime/bus"
)

const (
	PreCertificatePrefix = "pre_certificates/"
	CertificatePrefix    = "certificates/"
)

type CertificateConfig struct {
	RefPrefix        string        `yaml:"ref_prefix"`
	EligibilityDelay time.Duration `yaml:"eligibility_delay"`
	SweepSpec        string        `yaml:"sweep_spec"`
	Issuer           string        `yaml:"issuer"`
	// InternshipLength is the span printed between the start and end dates.
	InternshipLength time.Duration `yaml:"internship_length"`
}

func CertificateConfigFromEnv() CertificateConfig {
	return CertificateConfig{
		RefPrefix:        envutil.String("CERTIFICATE_REF_PREFIX", "NEX/INT/2025"),
		EligibilityDelay: envutil.Duration("CERTIFICATE_ELIGIBILITY_DELAY", 30*24*time.Hour),
		SweepSpec:        envutil.String("CERTIFICATE_SWEEP_SPEC", "@every 10m"),
		Issuer:           envutil.String("CERTIFICATE_ISSUER", "Walnex / Nexston"),
		InternshipLength: envutil.Duration("CERTIFICATE_INTERNSHIP_LENGTH", 30*24*time.Hour),
	}
}

// SequenceAllocator hands out certificate reference numbers. Numbers are
// never reused, even when the certificate that took one is abandoned.
type SequenceAllocator interface {
	NextReferenceNumber(dbc dbctx.Context) (string, error)
}

type sequenceAllocator struct {
	seq    repos.SequenceRepo
	prefix string
}

func NewSequenceAllocator(seq repos.SequenceRepo, prefix string) SequenceAllocator {
	return &sequenceAllocator{seq: seq, prefix: prefix}
}

func (a *sequenceAllocator) NextReferenceNumber(dbc dbctx.Context) (string, error) {
	n, err := a.seq.Next(dbc)
	if err != nil {
		return "", fmt.Errorf("allocate reference number: %w", err)
	}
	return FormatReference(a.prefix, n), nil
}

// FormatReference renders prefix/NN with at least two digits.
func FormatReference(prefix string, n int) string {
	return fmt.Sprintf("%s/%02d", prefix, n)
}

type proofInput struct {
	ProofLink string `validate:"required,http_url"`
}

type SubmitProofResult struct {
	Request   *types.CertificateRequest `json:"request"`
	Finalized bool                      `json:"finalized"`
}

type PendingCertificate struct {
	RequestID   uuid.UUID  `json:"requestId"`
	UserID      uuid.UUID  `json:"userId"`
	CourseID    uuid.UUID  `json:"courseId"`
	Email       string     `json:"email"`
	CourseTitle string     `json:"courseTitle"`
	ReferenceNo string     `json:"referenceNo"`
	RequestedAt time.Time  `json:"requestedAt"`
	EligibleAt  *time.Time `json:"eligibleAt,omitempty"`
}

type SweepResult struct {
	Checked   int `json:"checked"`
	Finalized int `json:"finalized"`
	Failed    int `json:"failed"`
}

type CertificateService interface {
	SubmitProof(dbc dbctx.Context, userID, courseID uuid.UUID, proofLink string) (*SubmitProofResult, error)
	// TryFinalize emails and files the certificate once the request is
	// eligible. It is a no-op for missing, locked or not-yet-eligible
	// requests, and reports whether this call finalized it.
	TryFinalize(ctx context.Context, requestID uuid.UUID) (bool, error)
	SweepPending(ctx context.Context) (SweepResult, error)
	ListPending(ctx context.Context) ([]*PendingCertificate, error)
}

type certificateService struct {
	db       *gorm.DB
	log      *logger.Logger
	cfg      CertificateConfig
	r        *repos.Repos
	seq      SequenceAllocator
	store    objectstore.Store
	render   certrender.Renderer
	mail     mailer.Mailer
	bus      bus.Bus
	validate *validator.Validate
	now      func() time.Time
}

func NewCertificateService(
	db *gorm.DB,
	baseLog *logger.Logger,
	r *repos.Repos,
	seq SequenceAllocator,
	store objectstore.Store,
	render certrender.Renderer,
	mail mailer.Mailer,
	b bus.Bus,
	cfg CertificateConfig,
) CertificateService {
	if b == nil {
		b = bus.Noop{}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "Walnex / Nexston"
	}
	return &certificateService{
		db:       db,
		log:      baseLog.With("service", "CertificateService"),
		cfg:      cfg,
		r:        r,
		seq:      seq,
		store:    store,
		render:   render,
		mail:     mail,
		bus:      b,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *certificateService) SubmitProof(dbc dbctx.Context, userID, courseID uuid.UUID, proofLink string) (*SubmitProofResult, error) {
	ctx := ctxutil.Default(dbc.Ctx)
	if err := s.validate.Struct(proofInput{ProofLink: proofLink}); err != nil {
		return nil, apierr.Validation("invalid_proof_link", "proof link must be an absolute http(s) URL")
	}

	enrollment, err := s.r.Enrollment.Get(dbc, userID, courseID)
	if err != nil {
		return nil, err
	}
	if !enrollment.IsCompleted() {
		return nil, apierr.Forbidden("enrollment_required", "course enrollment is not completed")
	}
	exists, err := s.r.Certificate.Exists(dbc, userID, courseID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apierr.Forbidden("certificate_already_generated", "certificate already generated")
	}
	user, err := s.r.User.GetByID(dbc, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apierr.NotFound("user_not_found", "user %s not found", userID)
	}
	course, err := s.r.Course.GetByID(dbc, courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, apierr.NotFound("course_not_found", "course %s not found", courseID)
	}

	ref, err := s.seq.NextReferenceNumber(dbc)
	if err != nil {
		return nil, err
	}
	now := s.now()
	start := enrollment.EnrolledAt.UTC()
	png, err := s.render.Render(ctx, certrender.Input{
		FullName:    user.FullName,
		Gender:      user.Gender,
		CourseTitle: course.Title,
		ReferenceNo: ref,
		StartDate:   start,
		EndDate:     start.Add(s.cfg.InternshipLength),
		IssueDate:   now,
		Issuer:      s.cfg.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}

	fileName := fmt.Sprintf("certificate_%s_%s.%s", userID, courseID, s.render.Extension())
	key := PreCertificatePrefix + fileName
	if err := s.store.Put(ctx, key, bytes.NewReader(png)); err != nil {
		return nil, fmt.Errorf("upload pre-certificate: %w", err)
	}

	req, err := s.r.CertificateRequest.Upsert(dbc, &types.CertificateRequest{
		UserID:      userID,
		CourseID:    courseID,
		FileName:    fileName,
		ArtifactKey: key,
		ProofLink:   proofLink,
		ReferenceNo: ref,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Pre-certificate stored", "user_id", userID, "course_id", courseID, "reference_no", ref)

	out := &SubmitProofResult{Request: req}
	if dbc.Tx != nil {
		// Finalization takes its own row lock; the caller's transaction has to
		// commit first.
		return out, nil
	}
	finalized, err := s.TryFinalize(ctx, req.ID)
	if err != nil {
		// The request is stored; the sweep retries the email.
		s.log.Warn("inline finalize failed", "request_id", req.ID, "error", err)
		return out, nil
	}
	out.Finalized = finalized
	return out, nil
}

func (s *certificateService) eligibleAt(e *types.Enrollment) *time.Time {
	if !e.IsCompleted() || e.PaymentDate == nil {
		return nil
	}
	at := e.PaymentDate.Add(s.cfg.EligibilityDelay)
	return &at
}

func (s *certificateService) TryFinalize(ctx context.Context, requestID uuid.UUID) (finalized bool, err error) {
	ctx, span := observability.StartSpan(ctxutil.Default(ctx), "certificate.finalize", attribute.String("request_id", requestID.String()))
	defer func() { observability.EndSpan(span, err) }()

	var sent *types.CertificateRequest
	var recipient *types.User
	var filedKey string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		req, err := s.r.CertificateRequest.GetForUpdateSkipLocked(dbc, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return nil
		}
		enrollment, err := s.r.Enrollment.Get(dbc, req.UserID, req.CourseID)
		if err != nil {
			return err
		}
		at := s.eligibleAt(enrollment)
		if at == nil || s.now().Before(*at) {
			s.log.Debug("certificate not eligible yet", "request_id", req.ID)
			return nil
		}
		user, err := s.r.User.GetByID(dbc, req.UserID)
		if err != nil {
			return err
		}
		course, err := s.r.Course.GetByID(dbc, req.CourseID)
		if err != nil {
			return err
		}
		if user == nil || course == nil {
			return fmt.Errorf("certificate request %s references a missing user or course", req.ID)
		}

		artifact, err := s.readObject(ctx, req.ArtifactKey)
		if err != nil {
			return err
		}
		if err := s.mail.Send(ctx, mailer.Message{
			To:      user.Email,
			ToName:  user.FullName,
			Subject: "Certificate for " + course.Title,
			Body:    fmt.Sprintf("Hi %s,\n\nYour internship certificate is attached.\n\nRegards,\n%s", certrender.DisplayName(user.FullName), s.cfg.Issuer),
			Attachment: &mailer.Attachment{
				Filename:    req.FileName,
				ContentType: certrender.ContentType,
				Data:        artifact,
			},
		}); err != nil {
			return fmt.Errorf("send certificate: %w", err)
		}
		sent, recipient = req, user
		s.log.Info("Certificate emailed", "request_id", req.ID, "user_id", req.UserID)

		finalKey, err := s.fileCertificate(dbc, req)
		if err != nil {
			return err
		}
		filedKey = finalKey
		return nil
	})
	if sent == nil {
		return false, txErr
	}
	if txErr != nil {
		// Rolled back: the request and its pre-certificate are intact, so the
		// sweep emails again and files it then.
		s.log.Error("certificate emailed but finalization did not commit; left for sweep", "request_id", requestID, "error", txErr)
		return false, fmt.Errorf("file certificate: %w", txErr)
	}
	if filedKey != sent.ArtifactKey {
		if err := s.store.Delete(ctx, sent.ArtifactKey); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			s.log.Warn("pre-certificate delete failed after finalize", "request_id", requestID, "key", sent.ArtifactKey, "error", err)
		}
	}
	s.log.Info("Certificate finalized", "request_id", requestID, "reference_no", sent.ReferenceNo)
	if perr := s.bus.Publish(ctx, realtime.Event{
		Channel: realtime.UserChannel(recipient.ID),
		Name:    realtime.EventCertificateSent,
		Data:    map[string]any{"courseId": sent.CourseID, "referenceNo": sent.ReferenceNo},
	}); perr != nil {
		s.log.Debug("certificate event publish failed", "error", perr)
	}
	return true, nil
}

// fileCertificate copies the artifact to its permanent key and records the
// certificate inside the finalize transaction. The pre-certificate object is
// only removed by the caller once that transaction has committed.
func (s *certificateService) fileCertificate(dbc dbctx.Context, req *types.CertificateRequest) (string, error) {
	finalKey := CertificatePrefix + req.FileName
	if err := s.store.Copy(dbc.Ctx, req.ArtifactKey, finalKey); err != nil {
		s.log.Error("certificate move failed after email; keeping pre-certificate key", "request_id", req.ID, "error", err)
		finalKey = req.ArtifactKey
	}
	if err := s.r.Certificate.Upsert(dbc, &types.Certificate{
		UserID:      req.UserID,
		CourseID:    req.CourseID,
		ArtifactKey: finalKey,
		ProofLink:   req.ProofLink,
		ReferenceNo: req.ReferenceNo,
		IssuedAt:    s.now(),
	}); err != nil {
		return "", fmt.Errorf("record certificate: %w", err)
	}
	if err := s.r.CertificateRequest.Delete(dbc, req.ID); err != nil {
		return "", fmt.Errorf("delete certificate request: %w", err)
	}
	return finalKey, nil
}

func (s *certificateService) readObject(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("pre-certificate %s missing: %w", key, err)
		}
		return nil, fmt.Errorf("read pre-certificate: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *certificateService) SweepPending(ctx context.Context) (SweepResult, error) {
	ctx = ctxutil.Default(ctx)
	var res SweepResult
	pending, err := s.r.CertificateRequest.ListAll(dbctx.Context{Ctx: ctx})
	if err != nil {
		return res, err
	}
	for _, req := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++
		ok, err := s.TryFinalize(ctx, req.ID)
		if err != nil {
			res.Failed++
			s.log.Warn("certificate finalize failed; will retry", "request_id", req.ID, "error", err)
			continue
		}
		if ok {
			res.Finalized++
		}
	}
	s.log.Info("Certificate sweep completed", "checked", res.Checked, "finalized", res.Finalized, "failed", res.Failed)
	return res, nil
}

func (s *certificateService) ListPending(ctx context.Context) ([]*PendingCertificate, error) {
	dbc := dbctx.Context{Ctx: ctxutil.Default(ctx)}
	pending, err := s.r.CertificateRequest.ListAll(dbc)
	if err != nil {
		return nil, err
	}
	out := make([]*PendingCertificate, 0, len(pending))
	for _, req := range pending {
		row := &PendingCertificate{
			RequestID:   req.ID,
			UserID:      req.UserID,
			CourseID:    req.CourseID,
			ReferenceNo: req.ReferenceNo,
			RequestedAt: req.CreatedAt,
		}
		if u, err := s.r.User.GetByID(dbc, req.UserID); err != nil {
			return nil, err
		} else if u != nil {
			row.Email = u.Email
		}
		if c, err := s.r.Course.GetByID(dbc, req.CourseID); err != nil {
			return nil, err
		} else if c != nil {
			row.CourseTitle = c.Title
		}
		e, err := s.r.Enrollment.Get(dbc, req.UserID, req.CourseID)
		if err != nil {
			return nil, err
		}
		row.EligibleAt = s.eligibleAt(e)
		out = append(out, row)
	}
	return out, nil
}
