package pipeline

import (
	"context"

	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	corehubplugin "github.com/scenehub/corehub/internal/corehub/plugin"
	"github.com/scenehub/corehub/internal/platform/apierr"
)

// ToolID is this plugin's identifier in the Plugin Registry.
const ToolID = "roblox_asset_pipeline"

// AsPlugin wraps o and mgr as a corehub Plugin, so the asset pipeline is
// reachable through the same command_type -> plugin dispatch every other
// capability uses, rather than being called directly.
type AsPlugin struct {
	o   *Orchestrator
	mgr *jobmanager.Manager
}

// NewPlugin builds the roblox_asset_pipeline Plugin. mgr must already have
// o's handlers registered via o.RegisterHandlers(mgr).
func NewPlugin(o *Orchestrator, mgr *jobmanager.Manager) *AsPlugin {
	return &AsPlugin{o: o, mgr: mgr}
}

func (p *AsPlugin) Metadata() corehubplugin.Metadata {
	return corehubplugin.Metadata{
		ToolID:                 ToolID,
		DisplayName:            "Roblox Asset Pipeline",
		Version:                "1.0.0",
		Capabilities:           []corehubplugin.Capability{corehubplugin.CapabilityMesh3DCreation},
		RequiresLiveConnection: true,
		Pricing:                corehubplugin.PricingStandard,
	}
}

func (p *AsPlugin) SupportedCommands() []string {
	return []string{JobTypeDownload, JobTypeConvert, JobTypeImport, JobTypeFull}
}

func (p *AsPlugin) Initialize(ctx context.Context) error { return nil }
func (p *AsPlugin) Shutdown(ctx context.Context) error   { return nil }

func (p *AsPlugin) HealthCheck(ctx context.Context) corehubplugin.HealthStatus {
	return corehubplugin.HealthAvailable
}

func (p *AsPlugin) Validate(commandType string, params map[string]any) corehubplugin.ValidationResult {
	var errs []string
	switch commandType {
	case JobTypeDownload, JobTypeFull:
		if s, _ := params["user_input"].(string); s == "" {
			errs = append(errs, "user_input is required")
		}
	case JobTypeConvert:
		if s, _ := params["obj_uid"].(string); s == "" {
			errs = append(errs, "obj_uid is required")
		}
	case JobTypeImport:
		if s, _ := params["uid"].(string); s == "" {
			errs = append(errs, "uid is required")
		}
	default:
		errs = append(errs, "unsupported command type: "+commandType)
	}
	return corehubplugin.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Preprocess is a no-op: every parameter this plugin needs arrives already
// shaped from the HTTP layer.
func (p *AsPlugin) Preprocess(ctx context.Context, commandType string, params map[string]any) (map[string]any, error) {
	return params, nil
}

// Execute always submits to the Job Manager and returns immediately,
// matching the spec's framing of asset-pipeline commands as long-running:
// even the download alone can take tens of seconds against the Roblox CDN.
func (p *AsPlugin) Execute(ctx context.Context, commandType string, params map[string]any) corehubplugin.CommandResult {
	if v := p.Validate(commandType, params); !v.Valid {
		return corehubplugin.CommandResult{
			Success: false,
			Err:     apierr.New(apierr.CodeValidationFailed, "invalid parameters for "+commandType, nil),
		}
	}

	sessionID, _ := params["session_id"].(string)
	targetUID, _ := params["obj_uid"].(string)
	if targetUID == "" {
		targetUID, _ = params["uid"].(string)
	}

	job, err := p.mgr.Submit(commandType, sessionID, targetUID, params)
	if err != nil {
		return corehubplugin.CommandResult{Success: false, Err: asAPIErr(err)}
	}
	return corehubplugin.CommandResult{Success: true, Mode: corehubplugin.ModeAsync, JobID: job.ID}
}
