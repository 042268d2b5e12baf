package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/nexston/bekola-backend/internal/data/repos"
	types "github.com/nexston/bekola-backend/internal/domain"
	"github.com/nexston/bekola-backend/internal/domain/jobs"
	"github.com/nexston/bekola-backend/internal/domain/media"
	"github.com/nexston/bekola-backend/internal/observability"
	"github.com/nexston/bekola-backend/internal/platform/apierr"
	"github.com/nexston/bekola-backend/internal/platform/ctxutil"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
	"github.com/nexston/bekola-backend/internal/platform/envutil"
	"github.com/nexston/bekola-backend/internal/platform/localmedia"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/platform/objectstore"
	"github.com/nexston/bekola-backend/internal/realtime"
	"github.com/nexston/bekola-backend/internal/realtime/bus"
)

// Transcoder is satisfied by *localmedia.Tools.
type Transcoder interface {
	Probe(ctx context.Context, path string) (float64, error)
	ConvertToHLS(ctx context.Context, input, outDir string, onProgress func(localmedia.ProgressUpdate)) (localmedia.HLSResult, error)
}

type TranscodeConfig struct {
	ScratchDir        string `yaml:"scratch_dir"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	// DeleteSource removes the uploaded original once the HLS output is
	// published. Off by default; the source key is cleared either way.
	DeleteSource bool `yaml:"delete_source"`
}

func TranscodeConfigFromEnv() TranscodeConfig {
	return TranscodeConfig{
		ScratchDir:        envutil.String("TRANSCODE_SCRATCH_DIR", filepath.Join(os.TempDir(), "bekola-transcode")),
		UploadConcurrency: envutil.Int("TRANSCODE_UPLOAD_CONCURRENCY", 4),
		DeleteSource:      envutil.Bool("TRANSCODE_DELETE_SOURCE", false),
	}
}

// HLSPrefix is the object prefix a video's playlist and segments live under.
func HLSPrefix(courseID, videoID uuid.UUID) string {
	return fmt.Sprintf("videos/course-%s/lesson_%s/", courseID, videoID)
}

type TranscodeStatus struct {
	VideoID         uuid.UUID  `json:"videoId"`
	Stage           string     `json:"stage"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	Ready           bool       `json:"ready"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty"`
	PlaybackURL     *string    `json:"playbackUrl,omitempty"`
	JobID           *uuid.UUID `json:"jobId,omitempty"`
	JobStatus       string     `json:"jobStatus,omitempty"`
	JobAttempts     int        `json:"jobAttempts,omitempty"`
}

type TranscodeService interface {
	// EnqueueTranscode hands the video to the job queue and returns at once.
	// The bool is false when a transcode for the video is already pending.
	// A non-nil requestedBy must be enrolled in the video's course; nil is an
	// operator.
	EnqueueTranscode(dbc dbctx.Context, videoID uuid.UUID, requestedBy *uuid.UUID) (*types.JobRun, bool, error)
	RunTranscode(ctx context.Context, videoID uuid.UUID) error
	// Status follows the same rule for viewer.
	Status(dbc dbctx.Context, viewer *uuid.UUID, videoID uuid.UUID) (*TranscodeStatus, error)
}

type transcodeService struct {
	db     *gorm.DB
	log    *logger.Logger
	cfg    TranscodeConfig
	videos repos.VideoAssetRepo
	enroll repos.EnrollmentRepo
	jobs   JobService
	store  objectstore.Store
	tools  Transcoder
	bus    bus.Bus
}

func NewTranscodeService(
	db *gorm.DB,
	baseLog *logger.Logger,
	r *repos.Repos,
	jobSvc JobService,
	store objectstore.Store,
	tools Transcoder,
	b bus.Bus,
	cfg TranscodeConfig,
) TranscodeService {
	if cfg.UploadConcurrency < 1 {
		cfg.UploadConcurrency = 1
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "bekola-transcode")
	}
	if b == nil {
		b = bus.Noop{}
	}
	return &transcodeService{
		db:     db,
		log:    baseLog.With("service", "TranscodeService"),
		cfg:    cfg,
		videos: r.VideoAsset,
		enroll: r.Enrollment,
		jobs:   jobSvc,
		store:  store,
		tools:  tools,
		bus:    b,
	}
}

func (s *transcodeService) EnqueueTranscode(dbc dbctx.Context, videoID uuid.UUID, requestedBy *uuid.UUID) (*types.JobRun, bool, error) {
	asset, err := s.visibleVideo(dbc, requestedBy, videoID)
	if err != nil {
		return nil, false, err
	}
	if asset.SourceKey == nil || *asset.SourceKey == "" {
		return nil, false, apierr.Validation("source_missing", "video %s has no uploaded source", videoID)
	}
	job, created, err := s.jobs.EnqueueIfIdle(dbc, requestedBy, jobs.JobTypeVideoTranscode, jobs.EntityTypeVideo, videoID, map[string]any{
		"video_id": videoID.String(),
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("Transcode enqueued", "video_id", videoID, "job_id", job.ID)
	}
	return job, created, nil
}

func (s *transcodeService) Status(dbc dbctx.Context, viewer *uuid.UUID, videoID uuid.UUID) (*TranscodeStatus, error) {
	asset, err := s.visibleVideo(dbc, viewer, videoID)
	if err != nil {
		return nil, err
	}
	out := &TranscodeStatus{
		VideoID:         asset.ID,
		Stage:           asset.Stage,
		Status:          asset.Status,
		Progress:        asset.Progress,
		Ready:           asset.IsReady(),
		DurationSeconds: asset.DurationSeconds,
		PlaybackURL:     asset.PlaybackURL,
	}
	if s.jobs != nil {
		job, err := s.jobs.GetLatestForEntity(dbc, jobs.EntityTypeVideo, videoID, jobs.JobTypeVideoTranscode)
		if err != nil {
			return nil, err
		}
		if job != nil {
			id := job.ID
			out.JobID = &id
			out.JobStatus = job.Status
			out.JobAttempts = job.Attempts
		}
	}
	return out, nil
}

// visibleVideo loads the asset and, for a non-nil userID, requires an
// enrollment in its course.
func (s *transcodeService) visibleVideo(dbc dbctx.Context, userID *uuid.UUID, videoID uuid.UUID) (*types.VideoAsset, error) {
	asset, err := s.videos.GetByID(dbc, videoID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, apierr.NotFound("video_not_found", "video %s not found", videoID)
	}
	if userID == nil {
		return asset, nil
	}
	enr, err := s.enroll.Get(dbc, *userID, asset.CourseID)
	if err != nil {
		return nil, err
	}
	if enr == nil {
		return nil, apierr.Forbidden("not_enrolled", "not enrolled in course %s", asset.CourseID)
	}
	return asset, nil
}

func (s *transcodeService) RunTranscode(ctx context.Context, videoID uuid.UUID) (err error) {
	ctx, span := observability.StartSpan(ctxutil.Default(ctx), "transcode.run", attribute.String("video_id", videoID.String()))
	defer func() { observability.EndSpan(span, err) }()

	asset, err := s.videos.GetByID(dbctx.Context{Ctx: ctx}, videoID)
	if err != nil {
		return err
	}
	if asset == nil {
		return apierr.NotFound("video_not_found", "video %s not found", videoID)
	}
	if asset.SourceKey == nil || *asset.SourceKey == "" {
		if asset.IsReady() {
			// Already published by an earlier attempt.
			return nil
		}
		return s.fail(ctx, asset, fmt.Errorf("video %s has no uploaded source", videoID))
	}
	if err := s.run(ctx, asset, *asset.SourceKey); err != nil {
		return s.fail(ctx, asset, err)
	}
	return nil
}

func (s *transcodeService) run(ctx context.Context, asset *types.VideoAsset, sourceKey string) error {
	dbc := dbctx.Context{Ctx: ctx}
	log := s.log.With("video_id", asset.ID)

	if err := os.MkdirAll(s.cfg.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("scratch root: %w", err)
	}
	lock := flock.New(filepath.Join(s.cfg.ScratchDir, "video-"+asset.ID.String()+".lock"))
	locked, err := lock.TryLockContext(ctx, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("scratch lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("scratch lock: not acquired")
	}
	defer func() { _ = lock.Unlock() }()

	scratch, err := os.MkdirTemp(s.cfg.ScratchDir, "video-"+asset.ID.String()+"-")
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Warn("scratch cleanup failed", "dir", scratch, "error", rmErr)
		}
	}()

	src := filepath.Join(scratch, "source"+path.Ext(sourceKey))
	n, err := s.download(ctx, sourceKey, src)
	if err != nil {
		return err
	}
	log.Info("Source downloaded", "key", sourceKey, "size", humanize.Bytes(uint64(n)))

	if err := s.videos.UpdateFields(dbc, asset.ID, map[string]interface{}{
		"stage":    media.StageConverting,
		"status":   media.StatusProcessing,
		"progress": 0,
	}); err != nil {
		return err
	}
	s.publish(ctx, asset.ID, realtime.EventVideoProgress, map[string]any{"stage": media.StageConverting, "progress": 0})

	duration, err := s.tools.Probe(ctx, src)
	if err != nil {
		return fmt.Errorf("read duration: %w", err)
	}
	if err := s.videos.UpdateFields(dbc, asset.ID, map[string]interface{}{"duration_seconds": duration}); err != nil {
		return err
	}

	last := 0
	outDir := filepath.Join(scratch, "hls")
	res, err := s.tools.ConvertToHLS(ctx, src, outDir, func(u localmedia.ProgressUpdate) {
		pct := localmedia.Percent(u.OutTime, duration)
		if pct <= last {
			return
		}
		last = pct
		ok, perr := s.videos.UpdateProgressIfConverting(dbc, asset.ID, pct)
		if perr != nil {
			log.Warn("progress write failed", "progress", pct, "error", perr)
			return
		}
		if ok {
			s.publish(ctx, asset.ID, realtime.EventVideoProgress, map[string]any{"stage": media.StageConverting, "progress": pct})
		}
	})
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	if _, err := os.Stat(res.PlaylistPath); err != nil {
		return fmt.Errorf("playlist missing after conversion")
	}

	if err := s.videos.UpdateFields(dbc, asset.ID, map[string]interface{}{"stage": media.StageUploadingHLS}); err != nil {
		return err
	}
	s.publish(ctx, asset.ID, realtime.EventVideoProgress, map[string]any{"stage": media.StageUploadingHLS, "progress": last})

	prefix := HLSPrefix(asset.CourseID, asset.ID)
	if err := s.uploadDir(ctx, outDir, prefix); err != nil {
		return err
	}
	playback := s.store.PublicURL(prefix + localmedia.PlaylistName)

	if s.cfg.DeleteSource {
		if err := s.store.Delete(ctx, sourceKey); err != nil {
			log.Warn("source delete failed", "key", sourceKey, "error", err)
		}
	}

	if err := s.videos.UpdateFields(dbc, asset.ID, map[string]interface{}{
		"stage":        media.StageReady,
		"status":       media.StatusReady,
		"progress":     100,
		"playback_url": playback,
		"source_key":   nil,
	}); err != nil {
		return err
	}
	s.publish(ctx, asset.ID, realtime.EventVideoReady, map[string]any{"stage": media.StageReady, "progress": 100, "playbackUrl": playback})
	log.Info("Transcode finished", "playback_url", playback, "duration_seconds", duration)
	return nil
}

func (s *transcodeService) download(ctx context.Context, key, dst string) (int64, error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("download source %s: %w", key, err)
	}
	defer rc.Close()
	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create source file: %w", err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("download source %s: %w", key, err)
	}
	return n, nil
}

// uploadDir publishes every file in dir under prefix, overwriting objects a
// previous attempt may have left at the same keys.
func (s *transcodeService) uploadDir(ctx context.Context, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read hls dir: %w", err)
	}
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		g.Go(func() error {
			f, err := os.Open(filepath.Join(dir, name))
			if err != nil {
				return err
			}
			defer f.Close()
			if info, err := f.Stat(); err == nil {
				total.Add(info.Size())
			}
			if err := s.store.Put(gctx, prefix+name, f); err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Debug("HLS uploaded", "prefix", prefix, "files", len(entries), "size", humanize.Bytes(uint64(total.Load())))
	s.pruneStale(ctx, prefix, entries)
	return nil
}

// pruneStale removes objects under prefix that the latest output did not
// write, such as trailing segments of a longer earlier attempt. Best effort.
func (s *transcodeService) pruneStale(ctx context.Context, prefix string, entries []os.DirEntry) {
	lister, ok := s.store.(objectstore.Lister)
	if !ok {
		return
	}
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[prefix+e.Name()] = true
	}
	keys, err := lister.ListKeys(ctx, prefix)
	if err != nil {
		s.log.Warn("list HLS prefix failed", "prefix", prefix, "error", err)
		return
	}
	for _, key := range keys {
		if keep[key] {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.Warn("delete stale HLS object failed", "key", key, "error", err)
		}
	}
}

func (s *transcodeService) fail(ctx context.Context, asset *types.VideoAsset, cause error) error {
	// The run context may already be canceled; the failure still has to land.
	wctx := context.WithoutCancel(ctx)
	dbc := dbctx.Context{Ctx: wctx}
	if err := s.videos.UpdateFields(dbc, asset.ID, map[string]interface{}{
		"stage":  media.StageFailed,
		"status": media.StatusFailed,
	}); err != nil {
		s.log.Error("mark video failed", "video_id", asset.ID, "error", err)
	}
	if err := s.videos.AppendLog(dbc, asset.ID, "\nERROR: "+cause.Error()); err != nil {
		s.log.Error("append video log", "video_id", asset.ID, "error", err)
	}
	s.publish(wctx, asset.ID, realtime.EventVideoFailed, map[string]any{"stage": media.StageFailed, "error": cause.Error()})
	s.log.Warn("Transcode failed", "video_id", asset.ID, "error", cause)
	return cause
}

func (s *transcodeService) publish(ctx context.Context, videoID uuid.UUID, name string, data map[string]any) {
	data["videoId"] = videoID
	if err := s.bus.Publish(ctx, realtime.Event{Channel: realtime.VideoChannel(videoID), Name: name, Data: data}); err != nil {
		s.log.Debug("video event publish failed", "video_id", videoID, "event", name, "error", err)
	}
}
