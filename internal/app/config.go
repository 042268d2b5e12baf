package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dbpkg "github.com/nexston/bekola-backend/internal/data/db"
	apphttp "github.com/nexston/bekola-backend/internal/http"
	"github.com/nexston/bekola-backend/internal/observability"
	"github.com/nexston/bekola-backend/internal/platform/certrender"
	"github.com/nexston/bekola-backend/internal/platform/envutil"
	"github.com/nexston/bekola-backend/internal/platform/localmedia"
	"github.com/nexston/bekola-backend/internal/platform/mailer"
	"github.com/nexston/bekola-backend/internal/platform/objectstore"
	"github.com/nexston/bekola-backend/internal/realtime/bus"
	"github.com/nexston/bekola-backend/internal/services"
	"github.com/nexston/bekola-backend/internal/temporalx"
)

type Config struct {
	LogMode string `yaml:"log_mode"`

	DB       dbpkg.Config               `yaml:"db"`
	HTTP     apphttp.ServerConfig       `yaml:"http"`
	Storage  objectstore.Config         `yaml:"storage"`
	Mailer   mailer.Config              `yaml:"mailer"`
	Redis    bus.Config                 `yaml:"redis"`
	Temporal temporalx.Config           `yaml:"temporal"`
	Otel     observability.OtelConfig   `yaml:"otel"`
	Media    localmedia.Options         `yaml:"media"`
	Render   certrender.Options         `yaml:"certificate_render"`
	Jobs     services.JobQueueConfig    `yaml:"jobs"`
	Progress services.ProgressConfig    `yaml:"progress"`
	Video    services.TranscodeConfig   `yaml:"transcode"`
	Certs    services.CertificateConfig `yaml:"certificates"`
}

// LoadConfig reads the environment, then decodes CONFIG_FILE (when set) over
// it. Keys missing from the file keep their env or default values.
func LoadConfig() (Config, error) {
	storage, err := objectstore.ConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		LogMode:  envutil.String("LOG_MODE", "development"),
		DB:       dbpkg.ConfigFromEnv(),
		HTTP:     apphttp.ServerConfigFromEnv(),
		Storage:  storage,
		Mailer:   mailer.ConfigFromEnv(),
		Redis:    bus.ConfigFromEnv(),
		Temporal: temporalx.LoadConfig(),
		Otel:     observability.OtelConfigFromEnv(),
		Media: localmedia.Options{
			FFmpegPath:  envutil.String("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: envutil.String("FFPROBE_PATH", "ffprobe"),
			Timeout:     envutil.Duration("TRANSCODE_TIMEOUT", 2*time.Hour),
		},
		Render: certrender.Options{
			BackgroundPath: envutil.String("CERTIFICATE_BACKGROUND_PATH", ""),
		},
		Jobs:     services.JobQueueConfigFromEnv(),
		Progress: services.ProgressConfigFromEnv(),
		Video:    services.TranscodeConfigFromEnv(),
		Certs:    services.CertificateConfigFromEnv(),
	}
	if path := envutil.String("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case dbpkg.DriverPostgres, dbpkg.DriverSQLite:
	default:
		return fmt.Errorf("invalid DB_DRIVER=%q (allowed: postgres, sqlite)", c.DB.Driver)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Jobs.Validate(); err != nil {
		return err
	}
	if c.Jobs.Backend == services.QueueBackendTemporal && !c.Temporal.Enabled() {
		return fmt.Errorf("JOB_QUEUE_BACKEND=temporal requires TEMPORAL_ADDRESS")
	}
	if err := c.Progress.Validate(); err != nil {
		return err
	}
	if c.Certs.RefPrefix == "" {
		return fmt.Errorf("CERTIFICATE_REF_PREFIX must not be empty")
	}
	return nil
}
