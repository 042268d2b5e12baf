package services

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/data/repos/testutil"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/jobs"
	"github.com/nexston/bekola-backend/internal/domain/learning"
	"github.com/nexston/bekola-backend/internal/domain/media"
	"github.com/nexston/bekola-backend/internal/platform/apierr"
	"github.com/nexston/bekola-backend/internal/platform/localmedia"
	"github.com/nexston/bekola-backend/internal/platform/objectstore"
	"github.com/nexston/bekola-backend/internal/realtime"
	"github.com/nexston/bekola-backend/internal/realtime/bus"
)

type transcodeRig struct {
	h       *harness
	store   *objectstore.Local
	tools   *fakeTranscoder
	bus     *bus.Memory
	scratch string
	svc     TranscodeService
	course  *types.Course
}

func newTranscodeRig(t *testing.T) *transcodeRig {
	t.Helper()
	h := newHarness(t)
	rig := &transcodeRig{
		h:       h,
		store:   h.store(t),
		tools:   &fakeTranscoder{duration: 10},
		bus:     bus.NewMemory(),
		scratch: t.TempDir(),
		course:  testutil.SeedCourse(t, h.ctx, h.db, "Media"),
	}
	jobSvc := NewJobService(h.db, h.log, h.r.JobRun, NewJobNotifier(rig.bus, h.log), JobQueueConfig{Backend: QueueBackendDB, MaxAttempts: 3}, nil, "")
	rig.svc = NewTranscodeService(h.db, h.log, h.r, jobSvc, rig.store, rig.tools, rig.bus, TranscodeConfig{
		ScratchDir:        rig.scratch,
		UploadConcurrency: 2,
	})
	return rig
}

func (rig *transcodeRig) seedSource(t *testing.T) *types.VideoAsset {
	t.Helper()
	key := "uploads/" + uuid.NewString() + ".mp4"
	if err := rig.store.Put(rig.h.ctx, key, strings.NewReader("source-bytes")); err != nil {
		t.Fatalf("put source: %v", err)
	}
	v := &types.VideoAsset{ID: uuid.New(), CourseID: rig.course.ID, Title: "raw", SourceKey: &key}
	if _, err := rig.h.r.VideoAsset.Create(rig.h.dbc(), []*types.VideoAsset{v}); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return v
}

func (rig *transcodeRig) enrolledUser(t *testing.T) *types.User {
	t.Helper()
	u := testutil.SeedUser(t, rig.h.ctx, rig.h.db, uuid.NewString()+"@example.com", "grace hopper", "female")
	testutil.SeedEnrollment(t, rig.h.ctx, rig.h.db, u.ID, rig.course.ID, learning.EnrollmentStatusPending, nil)
	return u
}

func (rig *transcodeRig) asset(t *testing.T, id uuid.UUID) *types.VideoAsset {
	t.Helper()
	v, err := rig.h.r.VideoAsset.GetByID(rig.h.dbc(), id)
	if err != nil || v == nil {
		t.Fatalf("GetByID: %v %v", v, err)
	}
	return v
}

func TestRunTranscodePublishesHLS(t *testing.T) {
	rig := newTranscodeRig(t)
	rig.tools.updates = []localmedia.ProgressUpdate{
		{OutTime: 5 * time.Second},
		{OutTime: 2 * time.Second},
		{OutTime: 8 * time.Second},
		{OutTime: 10 * time.Second, Done: true},
	}
	v := rig.seedSource(t)

	if err := rig.svc.RunTranscode(rig.h.ctx, v.ID); err != nil {
		t.Fatalf("RunTranscode: %v", err)
	}

	got := rig.asset(t, v.ID)
	if got.Stage != media.StageReady || got.Status != media.StatusReady || got.Progress != 100 {
		t.Fatalf("asset = %+v", got)
	}
	if got.SourceKey != nil {
		t.Fatalf("source key should be cleared")
	}
	if got.Duration() != 10 {
		t.Fatalf("duration = %v", got.Duration())
	}
	prefix := HLSPrefix(rig.course.ID, v.ID)
	if got.PlaybackURL == nil || *got.PlaybackURL != rig.store.PublicURL(prefix+localmedia.PlaylistName) {
		t.Fatalf("playback url = %v", got.PlaybackURL)
	}
	for _, name := range []string{localmedia.PlaylistName, "segment_000.ts"} {
		ok, err := rig.store.Exists(rig.h.ctx, prefix+name)
		if err != nil || !ok {
			t.Fatalf("%s not uploaded: %v", name, err)
		}
	}
	if ok, _ := rig.store.Exists(rig.h.ctx, *v.SourceKey); !ok {
		t.Fatalf("source object should be kept by default")
	}

	var seen []int
	ready := false
	for _, ev := range rig.bus.Events() {
		if ev.Channel != realtime.VideoChannel(v.ID) {
			continue
		}
		switch ev.Name {
		case realtime.EventVideoProgress:
			if ev.Data["stage"] == media.StageConverting {
				seen = append(seen, ev.Data["progress"].(int))
			}
		case realtime.EventVideoReady:
			ready = true
		}
	}
	want := []int{0, 50, 80, 99}
	if len(seen) != len(want) {
		t.Fatalf("progress events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress events = %v, want %v", seen, want)
		}
	}
	if !ready {
		t.Fatalf("ready event not published")
	}

	entries, err := os.ReadDir(rig.scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Fatalf("scratch dir left behind: %s", e.Name())
		}
	}
}

func TestRunTranscodePrunesStaleSegments(t *testing.T) {
	rig := newTranscodeRig(t)
	v := rig.seedSource(t)
	prefix := HLSPrefix(rig.course.ID, v.ID)
	stale := prefix + "segment_042.ts"
	if err := rig.store.Put(rig.h.ctx, stale, strings.NewReader("old")); err != nil {
		t.Fatalf("put stale: %v", err)
	}

	if err := rig.svc.RunTranscode(rig.h.ctx, v.ID); err != nil {
		t.Fatalf("RunTranscode: %v", err)
	}
	if ok, _ := rig.store.Exists(rig.h.ctx, stale); ok {
		t.Fatalf("stale segment %s should be removed", stale)
	}
	if ok, _ := rig.store.Exists(rig.h.ctx, prefix+localmedia.PlaylistName); !ok {
		t.Fatalf("playlist missing after prune")
	}
}

func TestRunTranscodeFailureMarksAsset(t *testing.T) {
	rig := newTranscodeRig(t)
	rig.tools.err = errors.New("ffmpeg exited 1")
	v := rig.seedSource(t)

	err := rig.svc.RunTranscode(rig.h.ctx, v.ID)
	if err == nil || !strings.Contains(err.Error(), "ffmpeg exited 1") {
		t.Fatalf("RunTranscode err = %v", err)
	}
	got := rig.asset(t, v.ID)
	if got.Stage != media.StageFailed || got.Status != media.StatusFailed {
		t.Fatalf("asset = %+v", got)
	}
	if !strings.Contains(got.Log, "\nERROR: convert: ffmpeg exited 1") {
		t.Fatalf("log = %q", got.Log)
	}
	if got.SourceKey == nil {
		t.Fatalf("source key must survive a failed run")
	}

	// A retry regenerates everything from the source.
	rig.tools.err = nil
	if err := rig.svc.RunTranscode(rig.h.ctx, v.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := rig.asset(t, v.ID); !got.IsReady() {
		t.Fatalf("retry did not publish: %+v", got)
	}
}

func TestRunTranscodeWithoutSource(t *testing.T) {
	rig := newTranscodeRig(t)

	ready := testutil.SeedVideo(t, rig.h.ctx, rig.h.db, rig.course.ID, 30)
	if err := rig.svc.RunTranscode(rig.h.ctx, ready.ID); err != nil {
		t.Fatalf("ready asset without source: %v", err)
	}
	if rig.tools.calls != 0 {
		t.Fatalf("transcoder should not run")
	}

	v := &types.VideoAsset{ID: uuid.New(), CourseID: rig.course.ID, Title: "empty"}
	if _, err := rig.h.r.VideoAsset.Create(rig.h.dbc(), []*types.VideoAsset{v}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := rig.svc.RunTranscode(rig.h.ctx, v.ID); err == nil {
		t.Fatalf("expected failure without source")
	}
	if got := rig.asset(t, v.ID); got.Stage != media.StageFailed {
		t.Fatalf("stage = %s", got.Stage)
	}

	requireKind(t, rig.svc.RunTranscode(rig.h.ctx, uuid.New()), apierr.ErrNotFound)
}

func TestEnqueueTranscodeDeduplicates(t *testing.T) {
	rig := newTranscodeRig(t)
	v := rig.seedSource(t)
	owner := testutil.PtrUUID(rig.enrolledUser(t).ID)

	job, created, err := rig.svc.EnqueueTranscode(rig.h.dbc(), v.ID, owner)
	if err != nil || !created || job == nil {
		t.Fatalf("EnqueueTranscode = %v %v %v", job, created, err)
	}
	if job.JobType != jobs.JobTypeVideoTranscode || job.Status != jobs.StatusQueued || *job.EntityID != v.ID {
		t.Fatalf("job = %+v", job)
	}
	_, created, err = rig.svc.EnqueueTranscode(rig.h.dbc(), v.ID, owner)
	if err != nil || created {
		t.Fatalf("duplicate enqueue = %v %v", created, err)
	}

	st, err := rig.svc.Status(rig.h.dbc(), owner, v.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Stage != media.StageUploading || st.JobID == nil || *st.JobID != job.ID || st.JobStatus != jobs.StatusQueued {
		t.Fatalf("status = %+v", st)
	}

	var created0 bool
	for _, ev := range rig.bus.Events() {
		if ev.Name == realtime.EventJobCreated && ev.Channel == realtime.UserChannel(*owner) {
			created0 = true
		}
	}
	if !created0 {
		t.Fatalf("job.created not published to owner")
	}
}

func TestEnqueueTranscodeValidation(t *testing.T) {
	rig := newTranscodeRig(t)
	_, _, err := rig.svc.EnqueueTranscode(rig.h.dbc(), uuid.New(), nil)
	requireKind(t, err, apierr.ErrNotFound)

	ready := testutil.SeedVideo(t, rig.h.ctx, rig.h.db, rig.course.ID, 30)
	_, _, err = rig.svc.EnqueueTranscode(rig.h.dbc(), ready.ID, nil)
	requireCode(t, err, "source_missing")
}

func TestTranscodeRequiresEnrollment(t *testing.T) {
	rig := newTranscodeRig(t)
	v := rig.seedSource(t)
	stranger := testutil.SeedUser(t, rig.h.ctx, rig.h.db, uuid.NewString()+"@example.com", "alan turing", "male")

	_, err := rig.svc.Status(rig.h.dbc(), &stranger.ID, v.ID)
	requireCode(t, err, "not_enrolled")
	_, _, err = rig.svc.EnqueueTranscode(rig.h.dbc(), v.ID, &stranger.ID)
	requireCode(t, err, "not_enrolled")

	_, err = rig.svc.Status(rig.h.dbc(), &stranger.ID, uuid.New())
	requireCode(t, err, "video_not_found")

	learner := rig.enrolledUser(t)
	if _, err := rig.svc.Status(rig.h.dbc(), &learner.ID, v.ID); err != nil {
		t.Fatalf("Status(enrolled): %v", err)
	}
	st, err := rig.svc.Status(rig.h.dbc(), nil, v.ID)
	if err != nil || st.JobID != nil {
		t.Fatalf("Status(operator) = %+v %v", st, err)
	}
}
