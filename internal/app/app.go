// Package app composes every corehub and platform component into one
// running process: construct dependencies bottom-up, register plugins and
// job handlers, and hand the result to the HTTP server.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/scenehub/corehub/internal/config"
	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	"github.com/scenehub/corehub/internal/corehub/paths"
	"github.com/scenehub/corehub/internal/corehub/pipeline"
	"github.com/scenehub/corehub/internal/corehub/plugin"
	"github.com/scenehub/corehub/internal/corehub/refstore"
	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/corehub/scenecmd"
	"github.com/scenehub/corehub/internal/corehub/session"
	"github.com/scenehub/corehub/internal/corehub/transform"
	"github.com/scenehub/corehub/internal/corehub/uid"
	corehttp "github.com/scenehub/corehub/internal/http"
	"github.com/scenehub/corehub/internal/http/handlers"
	"github.com/scenehub/corehub/internal/platform/editorbridge"
	"github.com/scenehub/corehub/internal/platform/gcp"
	"github.com/scenehub/corehub/internal/platform/logger"
	"github.com/scenehub/corehub/internal/platform/openai"
	"github.com/scenehub/corehub/internal/platform/thumbnail"
	"github.com/scenehub/corehub/internal/platform/transcoder"
)

// App is every constructed dependency plus the HTTP server built over
// them. Close releases what needs releasing; Run blocks serving HTTP.
type App struct {
	Log      *logger.Logger
	Cfg      config.Config
	Sessions *session.Store
	Jobs     *jobmanager.Manager
	Server   *corehttp.Server

	editor editorbridge.Client
	vision gcp.Vision
	video  gcp.Video

	cancel context.CancelFunc
}

// New builds the full dependency graph. Best-effort optional dependencies
// (vision, video intelligence, GCS upload, the generative image/video
// provider) are logged and left nil rather than failing startup, matching
// the degraded-mode policy the transform Orchestrator already assumes.
func New() (*App, error) {
	log, err := logger.New(defaultLogMode())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	cfg := config.Load(log)

	p, err := paths.New(log, cfg.ProjectRoot, true)
	if err != nil {
		return nil, fmt.Errorf("paths: %w", err)
	}
	uids, err := uid.New(log, p.UIDStatePath())
	if err != nil {
		return nil, fmt.Errorf("uid allocator: %w", err)
	}
	referUIDs, err := uid.New(log, p.ReferUIDStatePath())
	if err != nil {
		return nil, fmt.Errorf("refer uid allocator: %w", err)
	}
	reg, err := registry.Open(p.ResourceRegistryPath())
	if err != nil {
		return nil, fmt.Errorf("resource registry: %w", err)
	}
	refs := refstore.New(p.ReferenceBaseDir(), referUIDs)

	sessions, err := session.New(log, session.Config{
		PostgresDSN: cfg.PostgresDSN,
		FallbackDir: p.SessionsStateDir(),
	})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	tc := transcoder.New(transcoder.Config{
		Binary:    cfg.TranscoderBinary,
		BaseScene: cfg.TranscoderBaseScene,
		Timeout:   cfg.TranscoderTimeout,
	})
	editor := editorbridge.NewPersistent(log, editorbridge.Config{Host: cfg.EditorHost, Port: cfg.EditorPort})

	provider, err := openai.NewClient(log)
	if err != nil {
		log.Warn("generative image/video provider unavailable, transform commands will report unhealthy", "error", err)
		provider = nil
	}
	vision, err := gcp.NewVision(log)
	if err != nil {
		log.Warn("vision enrichment unavailable", "error", err)
		vision = nil
	}
	video, err := gcp.NewVideo(log)
	if err != nil {
		log.Warn("video intelligence enrichment unavailable", "error", err)
		video = nil
	}
	uploader, err := gcp.NewUploader(log)
	if err != nil {
		log.Warn("gcs upload enrichment unavailable", "error", err)
		uploader = nil
	}

	transformOrchestrator := transform.New(log, cfg, uids, reg, p, sessions, provider, vision, video, uploader)
	pipelineOrchestrator, err := pipeline.New(log, cfg, uids, reg, p, tc)
	if err != nil {
		return nil, fmt.Errorf("build pipeline orchestrator: %w", err)
	}
	if n := pipelineOrchestrator.Sagas().ReplayPending(); n > 0 {
		log.Warn("resumed compensations left pending by a prior crash", "count", n)
	}

	jobs := jobmanager.New(log, jobmanager.Options{
		WorkerConcurrency: cfg.WorkerConcurrency,
		HeartbeatEvery:    cfg.JobHeartbeatEvery,
		StaleRunningAfter: cfg.JobStaleRunningAge,
	})
	pipelineOrchestrator.RegisterHandlers(jobs)

	videoPlugin := transform.NewVideoPlugin(transformOrchestrator, jobs)
	videoPlugin.RegisterHandlers()

	plugins := plugin.NewRegistry()
	for _, p := range []plugin.Plugin{
		transform.NewImagePlugin(transformOrchestrator),
		videoPlugin,
		pipeline.NewPlugin(pipelineOrchestrator, jobs),
		scenecmd.New(log, editor, sessions),
	} {
		if err := plugins.Register(p); err != nil {
			return nil, fmt.Errorf("register plugin %s: %w", p.Metadata().ToolID, err)
		}
	}
	dispatcher := plugin.NewDispatcher(plugins)

	deps := &handlers.Deps{
		Log:        log,
		Cfg:        cfg,
		Sessions:   sessions,
		Registry:   reg,
		Refs:       refs,
		Paths:      p,
		UIDs:       uids,
		Dispatcher: dispatcher,
		Plugins:    plugins,
		Jobs:       jobs,
		Thumbnails: thumbnail.NewRenderer(cfg.ThumbnailFontPath),
	}

	return &App{
		Log:      log,
		Cfg:      cfg,
		Sessions: sessions,
		Jobs:     jobs,
		Server:   corehttp.NewServer(deps),
		editor:   editor,
		vision:   vision,
		video:    video,
	}, nil
}

// Start spawns the job worker pool and background maintenance loops.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.Jobs.Start(ctx, a.Cfg.WorkerConcurrency)
	if a.Cfg.JobCleanupAge > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.Jobs.CleanupOlderThan(a.Cfg.JobCleanupAge)
				}
			}
		}()
	}
}

// Run blocks serving HTTP on :HTTPPort.
func (a *App) Run() error {
	return a.Server.Run(":" + a.Cfg.HTTPPort)
}

// Close releases every closeable dependency. Safe to call once at
// shutdown; errors are logged rather than returned since callers cannot
// act on a partial teardown failure.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.editor != nil {
		if err := a.editor.Close(); err != nil {
			a.Log.Warn("editor bridge close failed", "error", err)
		}
	}
	if a.vision != nil {
		if err := a.vision.Close(); err != nil {
			a.Log.Warn("vision client close failed", "error", err)
		}
	}
	if a.video != nil {
		if err := a.video.Close(); err != nil {
			a.Log.Warn("video intelligence client close failed", "error", err)
		}
	}
	a.Log.Sync()
}

// defaultLogMode reads LOG_MODE directly since the logger must exist
// before config.Load can use it to report the rest of its own parsing.
func defaultLogMode() string {
	if v := os.Getenv("LOG_MODE"); v != "" {
		return v
	}
	return "development"
}
