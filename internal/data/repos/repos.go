package repos

import (
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos/certificates"
	"github.com/nexston/bekola-backend/internal/data/repos/jobs"
	"github.com/nexston/bekola-backend/internal/data/repos/learning"
	"github.com/nexston/bekola-backend/internal/data/repos/media"
	"github.com/nexston/bekola-backend/internal/data/repos/user"
	"github.com/nexston/bekola-backend/internal/platform/logger"
)

type UserRepo = user.UserRepo

type CourseRepo = learning.CourseRepo
type ModuleItemRepo = learning.ModuleItemRepo
type EnrollmentRepo = learning.EnrollmentRepo
type VideoProgressRepo = learning.VideoProgressRepo
type ContentProgressRepo = learning.ContentProgressRepo
type ModuleUnlockRepo = learning.ModuleUnlockRepo
type TestRepo = learning.TestRepo
type TestAttemptRepo = learning.TestAttemptRepo

type VideoAssetRepo = media.VideoAssetRepo

type CertificateRequestRepo = certificates.CertificateRequestRepo
type CertificateRepo = certificates.CertificateRepo
type SequenceRepo = certificates.SequenceRepo

type JobRunRepo = jobs.JobRunRepo

var (
	NewUserRepo               = user.NewUserRepo
	NewCourseRepo             = learning.NewCourseRepo
	NewModuleItemRepo         = learning.NewModuleItemRepo
	NewEnrollmentRepo         = learning.NewEnrollmentRepo
	NewVideoProgressRepo      = learning.NewVideoProgressRepo
	NewContentProgressRepo    = learning.NewContentProgressRepo
	NewModuleUnlockRepo       = learning.NewModuleUnlockRepo
	NewTestRepo               = learning.NewTestRepo
	NewTestAttemptRepo        = learning.NewTestAttemptRepo
	NewVideoAssetRepo         = media.NewVideoAssetRepo
	NewCertificateRequestRepo = certificates.NewCertificateRequestRepo
	NewCertificateRepo        = certificates.NewCertificateRepo
	NewSequenceRepo           = certificates.NewSequenceRepo
	NewJobRunRepo             = jobs.NewJobRunRepo
)

// Repos is the full set of repositories over one database handle.
type Repos struct {
	User               UserRepo
	Course             CourseRepo
	ModuleItem         ModuleItemRepo
	Enrollment         EnrollmentRepo
	VideoProgress      VideoProgressRepo
	ContentProgress    ContentProgressRepo
	ModuleUnlock       ModuleUnlockRepo
	Test               TestRepo
	TestAttempt        TestAttemptRepo
	VideoAsset         VideoAssetRepo
	CertificateRequest CertificateRequestRepo
	Certificate        CertificateRepo
	Sequence           SequenceRepo
	JobRun             JobRunRepo
}

func New(db *gorm.DB, baseLog *logger.Logger) *Repos {
	return &Repos{
		User:               NewUserRepo(db, baseLog),
		Course:             NewCourseRepo(db, baseLog),
		ModuleItem:         NewModuleItemRepo(db, baseLog),
		Enrollment:         NewEnrollmentRepo(db, baseLog),
		VideoProgress:      NewVideoProgressRepo(db, baseLog),
		ContentProgress:    NewContentProgressRepo(db, baseLog),
		ModuleUnlock:       NewModuleUnlockRepo(db, baseLog),
		Test:               NewTestRepo(db, baseLog),
		TestAttempt:        NewTestAttemptRepo(db, baseLog),
		VideoAsset:         NewVideoAssetRepo(db, baseLog),
		CertificateRequest: NewCertificateRequestRepo(db, baseLog),
		Certificate:        NewCertificateRepo(db, baseLog),
		Sequence:           NewSequenceRepo(db, baseLog),
		JobRun:             NewJobRunRepo(db, baseLog),
	}
}
