// Package scenecmd wraps the editor-bridge connection as the "editor
// bridge" corehub Plugin: the handful of synchronous scene-manipulation
// commands (spawning actors and lights, adjusting color temperature,
// clearing the sky, moving the in-editor sun) that a dispatched command can
// target directly, without a job. Every successful execution folds its
// effect into the owning session's SceneState (invariant I8: scene_state
// changes only in response to a command that actually succeeded).
package scenecmd

import (
	"context"
	"strings"

	corehubplugin "github.com/scenehub/corehub/internal/corehub/plugin"
	"github.com/scenehub/corehub/internal/corehub/session"
	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/editorbridge"
	"github.com/scenehub/corehub/internal/platform/logger"
)

const (
	CommandCreateActor          = "create_actor"
	CommandCreateLight          = "create_light"
	CommandSetLightColorTemp    = "set_light_color_temperature"
	CommandDeleteActor          = "delete_actor"
	CommandUpdateSky            = "update_sky"
	CommandSetGeolocation       = "set_geolocation"
	defaultSkyColorTemperatureK = 6500.0
)

var supportedCommands = []string{
	CommandCreateActor,
	CommandCreateLight,
	CommandSetLightColorTemp,
	CommandDeleteActor,
	CommandUpdateSky,
	CommandSetGeolocation,
}

// Plugin is the editor_bridge corehub Plugin.
type Plugin struct {
	log      *logger.Logger
	editor   editorbridge.Client
	sessions *session.Store
}

// New builds the editor_bridge Plugin from an already-dialed (or
// lazily-dialing) editor client and the Session Store it reconciles scene
// state into.
func New(log *logger.Logger, editor editorbridge.Client, sessions *session.Store) *Plugin {
	return &Plugin{log: log.With("service", "scenecmd.Plugin"), editor: editor, sessions: sessions}
}

func (p *Plugin) Metadata() corehubplugin.Metadata {
	return corehubplugin.Metadata{
		ToolID:      "editor_bridge",
		DisplayName: "Editor Scene Commands",
		Version:     "1.0.0",
		Capabilities: []corehubplugin.Capability{
			corehubplugin.CapabilitySceneManagement,
			corehubplugin.CapabilityLightingControl,
			corehubplugin.CapabilityGeospatial,
		},
		RequiresLiveConnection: true,
		Pricing:                corehubplugin.PricingFree,
	}
}

func (p *Plugin) SupportedCommands() []string { return supportedCommands }
func (p *Plugin) Initialize(ctx context.Context) error { return nil }
func (p *Plugin) Shutdown(ctx context.Context) error   { return p.editor.Close() }

// HealthCheck reports available whenever an editor client is set (and
// unavailable when it is nil), without probing it: a stale or not-yet-dialed
// connection is recovered transparently at Execute time (the editor bridge
// client reconnects once on a failed send), matching the recovery policy
// for "editor import with stale connection".
func (p *Plugin) HealthCheck(ctx context.Context) corehubplugin.HealthStatus {
	if p.editor == nil {
		return corehubplugin.HealthUnavailable
	}
	return corehubplugin.HealthAvailable
}

func (p *Plugin) Validate(commandType string, params map[string]any) corehubplugin.ValidationResult {
	var errs []string
	switch commandType {
	case CommandCreateActor:
		if s, _ := params["mesh_path"].(string); strings.TrimSpace(s) == "" {
			errs = append(errs, "mesh_path is required")
		}
	case CommandCreateLight:
		// location/intensity/color all default via Preprocess.
	case CommandSetLightColorTemp:
		if s, _ := params["light_id"].(string); strings.TrimSpace(s) == "" {
			errs = append(errs, "light_id is required")
		}
		if _, ok := params["color_temperature"]; !ok {
			errs = append(errs, "color_temperature is required")
		}
	case CommandDeleteActor:
		if s, _ := params["actor_id"].(string); strings.TrimSpace(s) == "" {
			errs = append(errs, "actor_id is required")
		}
	case CommandUpdateSky, CommandSetGeolocation:
		// free-form merge, nothing strictly required.
	default:
		errs = append(errs, "unsupported command type: "+commandType)
	}
	return corehubplugin.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Preprocess fills create_light defaults and resolves a color-temperature
// description or relative delta against the session's current sky
// temperature.
func (p *Plugin) Preprocess(ctx context.Context, commandType string, params map[string]any) (map[string]any, error) {
	switch commandType {
	case CommandCreateLight:
		return corehubplugin.DefaultLightParams(params), nil
	case CommandSetLightColorTemp:
		out := make(map[string]any, len(params))
		for k, v := range params {
			out[k] = v
		}
		currentK := defaultSkyColorTemperatureK
		if sessionID, _ := out["session_id"].(string); sessionID != "" {
			if ctxDoc, err := p.sessions.Get(ctx, sessionID); err == nil {
				if k, ok := ctxDoc.SceneState.Sky["color_temperature_k"].(float64); ok {
					currentK = k
				}
			}
		}
		resolved, err := corehubplugin.ResolveColorTemperature(out["color_temperature"], currentK)
		if err != nil {
			return nil, apierr.New(apierr.CodeValidationFailed, err.Error(), err)
		}
		out["color_temperature"] = resolved
		return out, nil
	default:
		return params, nil
	}
}

// Execute sends the command to the editor and, on success, folds its effect
// into the session's scene_state.
func (p *Plugin) Execute(ctx context.Context, commandType string, params map[string]any) corehubplugin.CommandResult {
	if v := p.Validate(commandType, params); !v.Valid {
		return corehubplugin.CommandResult{Success: false, Err: apierr.New(apierr.CodeValidationFailed, "invalid parameters for "+commandType, nil)}
	}

	resp, err := p.editor.Send(ctx, editorbridge.Request{Type: commandType, Params: params})
	if err != nil {
		return corehubplugin.CommandResult{Success: false, Err: asSceneAPIErr(err)}
	}

	if sessionID, _ := params["session_id"].(string); sessionID != "" {
		if updErr := p.applySceneUpdate(ctx, sessionID, commandType, params, resp.Result); updErr != nil {
			p.log.Warn("scenecmd: scene_state update failed", "session_id", sessionID, "command", commandType, "error", updErr)
		}
	}

	return corehubplugin.CommandResult{Success: true, Mode: corehubplugin.ModeSync, Result: resp.Result}
}

func (p *Plugin) applySceneUpdate(ctx context.Context, sessionID, commandType string, params, result map[string]any) error {
	ctxDoc, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	switch commandType {
	case CommandCreateActor:
		ctxDoc.SceneState.Actors = append(ctxDoc.SceneState.Actors, mergedEntry(params, result))
	case CommandCreateLight:
		ctxDoc.SceneState.Lights = append(ctxDoc.SceneState.Lights, mergedEntry(params, result))
	case CommandSetLightColorTemp:
		lightID, _ := params["light_id"].(string)
		for i, light := range ctxDoc.SceneState.Lights {
			if id, _ := light["light_id"].(string); id == lightID {
				ctxDoc.SceneState.Lights[i]["color_temperature_k"] = params["color_temperature"]
				break
			}
		}
	case CommandDeleteActor:
		actorID, _ := params["actor_id"].(string)
		kept := ctxDoc.SceneState.Actors[:0]
		for _, actor := range ctxDoc.SceneState.Actors {
			if id, _ := actor["actor_id"].(string); id != actorID {
				kept = append(kept, actor)
			}
		}
		ctxDoc.SceneState.Actors = kept
	case CommandUpdateSky:
		if ctxDoc.SceneState.Sky == nil {
			ctxDoc.SceneState.Sky = map[string]any{}
		}
		for k, v := range params {
			if k == "session_id" {
				continue
			}
			ctxDoc.SceneState.Sky[k] = v
		}
	case CommandSetGeolocation:
		if ctxDoc.SceneState.Geolocation == nil {
			ctxDoc.SceneState.Geolocation = map[string]any{}
		}
		for k, v := range params {
			if k == "session_id" {
				continue
			}
			ctxDoc.SceneState.Geolocation[k] = v
		}
	}

	return p.sessions.Update(ctx, ctxDoc)
}

func mergedEntry(params, result map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(result))
	for k, v := range params {
		if k == "session_id" {
			continue
		}
		out[k] = v
	}
	for k, v := range result {
		out[k] = v
	}
	return out
}

func asSceneAPIErr(err error) *apierr.Error {
	if apiErr, ok := err.(*apierr.Error); ok {
		return apiErr
	}
	return apierr.New(apierr.CodeCommandFailed, err.Error(), err)
}
