// Package plugin implements the Plugin Registry and the Command Validator
// & Dispatcher. Every capability the system exposes — editor manipulation,
// image/video transforms, the asset pipeline — is registered as a Plugin
// that declares the command types it owns, validates parameters, and
// executes them.
package plugin

import (
	"context"
	"sync"

	"github.com/scenehub/corehub/internal/platform/apierr"
)

// Capability is a closed tag describing what a plugin can do.
type Capability string

const (
	CapabilityMesh3DCreation  Capability = "mesh_3d_creation"
	CapabilitySceneManagement Capability = "scene_management"
	CapabilityRendering       Capability = "rendering"
	CapabilityVideoGeneration Capability = "video_generation"
	CapabilityImageEditing    Capability = "image_editing"
	CapabilityLightingControl Capability = "lighting_control"
	CapabilityGeospatial      Capability = "geospatial"
)

// HealthStatus is a plugin's current availability.
type HealthStatus string

const (
	HealthAvailable   HealthStatus = "available"
	HealthUnavailable HealthStatus = "unavailable"
	HealthError       HealthStatus = "error"
)

// PricingTier labels the relative cost of invoking a plugin's commands.
type PricingTier string

const (
	PricingFree     PricingTier = "free"
	PricingStandard PricingTier = "standard"
	PricingPremium  PricingTier = "premium"
)

// Metadata describes a plugin for discovery and routing decisions.
type Metadata struct {
	ToolID                 string
	DisplayName            string
	Version                string
	Capabilities           []Capability
	RequiresLiveConnection bool
	Pricing                PricingTier
}

// ValidationResult is the outcome of Plugin.Validate.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ExecutionMode tells the Dispatcher whether a command's result is ready
// immediately or must be polled for via the Job Manager.
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// CommandResult is the uniform shape every plugin execution returns.
type CommandResult struct {
	Success bool
	Mode    ExecutionMode
	Result  map[string]any
	JobID   string // set when Mode == ModeAsync
	Err     *apierr.Error
}

// Plugin is the capability unit the Registry and Dispatcher operate on.
type Plugin interface {
	Metadata() Metadata
	SupportedCommands() []string
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) HealthStatus
	Validate(commandType string, params map[string]any) ValidationResult
	// Preprocess may rewrite params (defaults, color-temperature mapping,
	// prompt composition) before Execute runs. Plugins without
	// preprocessing needs may return params unchanged.
	Preprocess(ctx context.Context, commandType string, params map[string]any) (map[string]any, error)
	Execute(ctx context.Context, commandType string, params map[string]any) CommandResult
}

// Registry maps command_type -> owning plugin.
type Registry struct {
	mu        sync.RWMutex
	plugins   map[string]Plugin // tool_id -> plugin
	byCommand map[string]Plugin // command_type -> plugin
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: map[string]Plugin{}, byCommand: map[string]Plugin{}}
}

// Register adds a plugin, failing if any of its commands are already owned.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta := p.Metadata()
	if _, exists := r.plugins[meta.ToolID]; exists {
		return apierr.New(apierr.CodeValidationFailed, "plugin already registered: "+meta.ToolID, nil)
	}
	for _, cmd := range p.SupportedCommands() {
		if owner, exists := r.byCommand[cmd]; exists {
			return apierr.New(apierr.CodeValidationFailed, "command "+cmd+" already owned by "+owner.Metadata().ToolID, nil)
		}
	}
	r.plugins[meta.ToolID] = p
	for _, cmd := range p.SupportedCommands() {
		r.byCommand[cmd] = p
	}
	return nil
}

// Lookup returns the plugin owning commandType, or an UnknownCommand error.
func (r *Registry) Lookup(commandType string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byCommand[commandType]
	if !ok {
		return nil, apierr.New(apierr.CodeValidationFailed, "unknown command type: "+commandType, nil)
	}
	return p, nil
}

// HealthStatusAll returns every registered plugin's health, keyed by tool_id.
func (r *Registry) HealthStatusAll(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	plugins := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		plugins = append(plugins, p)
	}
	r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(plugins))
	for _, p := range plugins {
		out[p.Metadata().ToolID] = p.HealthCheck(ctx)
	}
	return out
}

// InitializeAll calls Initialize on every registered plugin.
func (r *Registry) InitializeAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if err := p.Initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownAll calls Shutdown on every registered plugin, collecting (not
// stopping on) individual failures.
func (r *Registry) ShutdownAll(ctx context.Context) []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, p := range r.plugins {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
