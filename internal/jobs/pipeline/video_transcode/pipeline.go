package video_transcode

import (
	"fmt"

	"github.com/google/uuid"

	jobrt "github.com/nexston/bekola-backend/internal/jobs/runtime"
	"github.com/nexston/bekola-backend/internal/platform/dbctx"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	videoID, ok := jc.PayloadUUID("video_id")
	if !ok && jc.Job.EntityID != nil {
		videoID, ok = *jc.Job.EntityID, true
	}
	if !ok || videoID == uuid.Nil {
		err := fmt.Errorf("missing video_id")
		jc.Fail("validate", err)
		return err
	}
	if p.svc == nil || p.videos == nil {
		err := fmt.Errorf("transcode service not configured")
		jc.Fail("deps", err)
		return err
	}

	jc.Progress("transcode", 5, fmt.Sprintf("Transcoding video (attempt %d)", jc.Job.Attempts))
	if err := p.svc.RunTranscode(jc.Ctx, videoID); err != nil {
		jc.Fail("transcode", err)
		return err
	}

	asset, err := p.videos.GetByID(dbctx.Context{Ctx: jc.Ctx}, videoID)
	if err != nil {
		jc.Fail("finalize", err)
		return err
	}
	result := map[string]any{"video_id": videoID.String()}
	if asset != nil {
		result["stage"] = asset.Stage
		if asset.PlaybackURL != nil {
			result["playback_url"] = *asset.PlaybackURL
		}
		if asset.DurationSeconds != nil {
			result["duration_seconds"] = *asset.DurationSeconds
		}
	}
	jc.Succeed("done", result)
	p.log.Info("Video transcode job done", "job_id", jc.Job.ID, "video_id", videoID)
	return nil
}
