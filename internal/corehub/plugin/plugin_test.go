package plugin

import (
	"context"
	"strings"
	"testing"
)

type fakePlugin struct {
	meta     Metadata
	commands []string
	health   HealthStatus
	executed []string
}

func (f *fakePlugin) Metadata() Metadata          { return f.meta }
func (f *fakePlugin) SupportedCommands() []string { return f.commands }
func (f *fakePlugin) Initialize(ctx context.Context) error { return nil }
func (f *fakePlugin) Shutdown(ctx context.Context) error   { return nil }
func (f *fakePlugin) HealthCheck(ctx context.Context) HealthStatus {
	if f.health == "" {
		return HealthAvailable
	}
	return f.health
}
func (f *fakePlugin) Validate(commandType string, params map[string]any) ValidationResult {
	if params["fail_validation"] == true {
		return ValidationResult{Valid: false, Errors: []string{"bad params"}}
	}
	return ValidationResult{Valid: true}
}
func (f *fakePlugin) Preprocess(ctx context.Context, commandType string, params map[string]any) (map[string]any, error) {
	return params, nil
}
func (f *fakePlugin) Execute(ctx context.Context, commandType string, params map[string]any) CommandResult {
	f.executed = append(f.executed, commandType)
	return CommandResult{Success: true, Mode: ModeSync, Result: map[string]any{"ok": true}}
}

func TestRegistryRejectsDuplicateCommand(t *testing.T) {
	r := NewRegistry()
	a := &fakePlugin{meta: Metadata{ToolID: "a"}, commands: []string{"set_color_temperature"}}
	b := &fakePlugin{meta: Metadata{ToolID: "b"}, commands: []string{"set_color_temperature"}}

	if err := r.Register(a); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	if err := r.Register(b); err == nil {
		t.Fatal("expected duplicate command registration to fail")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	result := d.Dispatch(context.Background(), "nonexistent", nil)
	if result.Success {
		t.Fatal("expected failure for unknown command")
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	r := NewRegistry()
	p := &fakePlugin{meta: Metadata{ToolID: "a"}, commands: []string{"cmd"}}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := NewDispatcher(r)
	result := d.Dispatch(context.Background(), "cmd", map[string]any{"fail_validation": true})
	if result.Success {
		t.Fatal("expected validation failure")
	}
	if len(p.executed) != 0 {
		t.Fatal("Execute should not run after validation failure")
	}
}

func TestDispatchHappyPath(t *testing.T) {
	r := NewRegistry()
	p := &fakePlugin{meta: Metadata{ToolID: "a"}, commands: []string{"cmd"}}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := NewDispatcher(r)
	result := d.Dispatch(context.Background(), "cmd", map[string]any{})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result.Err)
	}
	if len(p.executed) != 1 {
		t.Fatal("expected Execute to run once")
	}
}

func TestDispatchSkipsUnavailablePlugin(t *testing.T) {
	r := NewRegistry()
	p := &fakePlugin{meta: Metadata{ToolID: "a"}, commands: []string{"cmd"}, health: HealthUnavailable}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := NewDispatcher(r)
	result := d.Dispatch(context.Background(), "cmd", map[string]any{})
	if result.Success {
		t.Fatal("expected failure for unavailable plugin")
	}
}

func TestResolveColorTemperatureNumeric(t *testing.T) {
	k, err := ResolveColorTemperature(20000.0, 4000)
	if err != nil {
		t.Fatalf("ResolveColorTemperature: %v", err)
	}
	if k != maxColorTempK {
		t.Fatalf("expected clamp to %v, got %v", maxColorTempK, k)
	}
}

func TestResolveColorTemperatureRelative(t *testing.T) {
	k, err := ResolveColorTemperature("warmer", 4000)
	if err != nil {
		t.Fatalf("ResolveColorTemperature: %v", err)
	}
	if k != 3000 {
		t.Fatalf("expected 3000, got %v", k)
	}
}

func TestResolveColorTemperatureUnknownDescription(t *testing.T) {
	if _, err := ResolveColorTemperature("stormy", 4000); err == nil {
		t.Fatal("expected error for unrecognized description")
	}
}

func TestComposePromptLatinConcatenationAndTruncation(t *testing.T) {
	long := make([]byte, 900)
	for i := range long {
		long[i] = 'a'
	}
	got, err := ComposePrompt(string(long), []string{"b"}, nil)
	if err != nil {
		t.Fatalf("ComposePrompt: %v", err)
	}
	if len(got) > promptMaxLen {
		t.Fatalf("len(got) = %d, want <= %d", len(got), promptMaxLen)
	}
}

func TestComposePromptSynthesizesMainPromptFromReferencesOnly(t *testing.T) {
	got, err := ComposePrompt("", []string{"make it blue"}, nil)
	if err != nil {
		t.Fatalf("ComposePrompt: %v", err)
	}
	if !strings.Contains(got, "Apply style transformation") {
		t.Fatalf("expected synthetic main prompt prefix, got %q", got)
	}
}

func TestDefaultLightParamsFillsMissingFields(t *testing.T) {
	out := DefaultLightParams(map[string]any{})
	if out["intensity"] != 1000.0 {
		t.Fatalf("intensity default = %v", out["intensity"])
	}
	if _, ok := out["location"]; !ok {
		t.Fatal("expected location default")
	}
}

func TestDefaultLightParamsPreservesProvidedValues(t *testing.T) {
	out := DefaultLightParams(map[string]any{"intensity": 500.0})
	if out["intensity"] != 500.0 {
		t.Fatalf("intensity should be preserved, got %v", out["intensity"])
	}
}
