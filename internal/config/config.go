// Package config assembles process configuration once at startup from
// environment variables. The exceptions that read os.Getenv themselves are
// the provider-client constructors that need an API key and the logger's
// own settings (LOG_MODE, read by app, and the logger's redaction
// variables), which are needed before Load can run.
package config

import (
	"strings"
	"time"

	"github.com/scenehub/corehub/internal/platform/envutil"
	"github.com/scenehub/corehub/internal/platform/logger"
)

// Config is the fully-resolved process configuration, threaded explicitly
// through every component constructor.
type Config struct {
	HTTPPort string
	LogMode  string

	ProjectRoot string

	PostgresDSN   string
	SessionDBMode string // "postgres", "fs_only"

	WorkerConcurrency   int
	JobPollInterval     time.Duration
	JobStaleRunningAge  time.Duration
	JobCleanupAge       time.Duration
	JobHeartbeatEvery   time.Duration

	PipelineDownloadPollInterval time.Duration
	PipelineDownloadCeiling      time.Duration
	PipelineMetadataMaxAttempts  int
	TranscoderTimeout            time.Duration
	TranscoderBinary             string
	TranscoderBaseScene          string

	EditorHost string
	EditorPort int

	ImageMaxBytes     int64
	ImageMaxTokensEst int

	// GCSBucket, when set, enables best-effort upload-and-annotate
	// enrichment of generated videos via Cloud Video Intelligence. Left
	// empty, GenerateVideo skips enrichment entirely.
	GCSBucket string

	// ThumbnailFontPath, when set, is a .ttf file used to label preview
	// thumbnail badges. Left empty, thumbnails render as plain color chips.
	ThumbnailFontPath string

	CORSOrigins []string
}

// Load reads environment variables with defaults matching the behavior
// documented for each component in SPEC_FULL.md.
func Load(log *logger.Logger) Config {
	cfg := Config{
		HTTPPort: envutil.String("PORT", "8080"),
		LogMode:  envutil.String("LOG_MODE", "development"),

		ProjectRoot: envutil.String("COREHUB_PROJECT_ROOT", ""),

		PostgresDSN:   envutil.String("DATABASE_URL", ""),
		SessionDBMode: envutil.String("SESSION_DB_MODE", "postgres"),

		WorkerConcurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
		JobPollInterval:    envutil.Duration("JOB_POLL_INTERVAL", time.Second),
		JobStaleRunningAge: envutil.Duration("JOB_STALE_RUNNING_AGE", 30*time.Minute),
		JobCleanupAge:      envutil.Duration("JOB_CLEANUP_AGE", 7*24*time.Hour),
		JobHeartbeatEvery:  envutil.Duration("JOB_HEARTBEAT_INTERVAL", 30*time.Second),

		PipelineDownloadPollInterval: envutil.Duration("PIPELINE_DOWNLOAD_POLL_INTERVAL", 5*time.Second),
		PipelineDownloadCeiling:      envutil.Duration("PIPELINE_DOWNLOAD_CEILING", 5*time.Minute),
		PipelineMetadataMaxAttempts:  envutil.Int("PIPELINE_METADATA_MAX_ATTEMPTS", 10),
		TranscoderTimeout:            envutil.Duration("TRANSCODER_TIMEOUT", 300*time.Second),
		TranscoderBinary:             envutil.String("TRANSCODER_BINARY", "obj2fbx"),
		TranscoderBaseScene:          envutil.String("TRANSCODER_BASE_SCENE", ""),

		EditorHost: envutil.String("EDITOR_HOST", "127.0.0.1"),
		EditorPort: envutil.Int("EDITOR_PORT", 55557),

		ImageMaxBytes:     int64(envutil.Int("TRANSFORM_MAX_BYTES", 18*1024*1024)),
		ImageMaxTokensEst: envutil.Int("TRANSFORM_MAX_TOKENS_EST", 900000),

		GCSBucket: envutil.String("VIDEO_ANNOTATION_GCS_BUCKET", ""),

		ThumbnailFontPath: envutil.String("THUMBNAIL_FONT_PATH", ""),
	}

	origins := envutil.String("CORS_ORIGINS", "*")
	cfg.CORSOrigins = splitAndTrim(origins)

	if cfg.ProjectRoot == "" {
		log.Warn("COREHUB_PROJECT_ROOT not set, path resolver will fall back to a local default")
	}
	if cfg.PostgresDSN == "" && cfg.SessionDBMode == "postgres" {
		log.Warn("DATABASE_URL not set, session store will run filesystem-fallback only")
		cfg.SessionDBMode = "fs_only"
	}

	return cfg
}

func splitAndTrim(s string) []string {
	var out []string
	for _, piece := range strings.Split(s, ",") {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}
