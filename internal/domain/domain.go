package domain

import (
	"github.com/nexston/bekola-backend/internal/domain/certificates"
	"github.com/nexston/bekola-backend/internal/domain/jobs"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/domain/media"
	"github.com/nexston/bekola-backend/internal/domain/user"
)

type User = user.User

type Course = learning.Course
type ModuleItem = learning.ModuleItem
type Enrollment = learning.Enrollment
type VideoProgress = learning.VideoProgress
type ContentProgress = learning.ContentProgress
type ModuleUnlock = learning.ModuleUnlock
type Test = learning.Test
type Question = learning.Question
type TestAttempt = learning.TestAttempt
type AnswerRecord = learning.AnswerRecord

type VideoAsset = media.VideoAsset

type CertificateRequest = certificates.CertificateRequest
type Certificate = certificates.Certificate
type CertificateSequence = certificates.CertificateSequence

type JobRun = jobs.JobRun

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&User{},
		&Course{},
		&VideoAsset{},
		&Test{},
		&Question{},
		&ModuleItem{},
		&Enrollment{},
		&VideoProgress{},
		&ContentProgress{},
		&ModuleUnlock{},
		&TestAttempt{},
		&AnswerRecord{},
		&CertificateSequence{},
		&CertificateRequest{},
		&Certificate{},
		&JobRun{},
	}
}
