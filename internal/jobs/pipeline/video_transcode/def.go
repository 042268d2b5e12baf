package video_transcode

import (
	"github.com/nexston/bekola-backend/internal/data/repos"
	"github.com/nexston/bekola-backend/internal/domain/jobs"
	"github.com/nexston/bekola-backend/internal/platform/logger"
	"github.com/nexston/bekola-backend/internal/services"
)

type Pipeline struct {
	log    *logger.Logger
	videos repos.VideoAssetRepo
	svc    services.TranscodeService
}

func New(baseLog *logger.Logger, videos repos.VideoAssetRepo, svc services.TranscodeService) *Pipeline {
	return &Pipeline{
		log:    baseLog.With("job", jobs.JobTypeVideoTranscode),
		videos: videos,
		svc:    svc,
	}
}

func (p *Pipeline) Type() string { return jobs.JobTypeVideoTranscode }
