package scenecmd

import (
	"context"
	"testing"

	"github.com/scenehub/corehub/internal/corehub/session"
	"github.com/scenehub/corehub/internal/platform/editorbridge"
	"github.com/scenehub/corehub/internal/platform/logger"
)

type fakeEditor struct {
	resp editorbridge.Response
	err  error
	reqs []editorbridge.Request
}

func (f *fakeEditor) Send(ctx context.Context, req editorbridge.Request) (editorbridge.Response, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return editorbridge.Response{}, f.err
	}
	return f.resp, nil
}

func (f *fakeEditor) Close() error { return nil }

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	store, err := session.New(log, session.Config{FallbackDir: t.TempDir()})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return store
}

func newTestPlugin(t *testing.T, editor *fakeEditor) (*Plugin, *session.Store) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	store := newTestStore(t)
	return New(log, editor, store), store
}

func TestCreateLightAppliesDefaultsAndUpdatesSceneState(t *testing.T) {
	editor := &fakeEditor{resp: editorbridge.Response{Success: true, Result: map[string]any{"light_id": "light-1"}}}
	p, store := newTestPlugin(t, editor)

	if err := store.Create(context.Background(), &session.Context{SessionID: "sess-1", SessionName: "s"}); err != nil {
		t.Fatalf("store.Create: %v", err)
	}

	params, err := p.Preprocess(context.Background(), CommandCreateLight, map[string]any{"session_id": "sess-1"})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if params["intensity"] != 1000.0 {
		t.Fatalf("expected default intensity 1000.0, got %v", params["intensity"])
	}

	result := p.Execute(context.Background(), CommandCreateLight, params)
	if !result.Success {
		t.Fatalf("expected success, got err=%v", result.Err)
	}

	updated, err := store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if len(updated.SceneState.Lights) != 1 {
		t.Fatalf("expected 1 light in scene_state, got %d", len(updated.SceneState.Lights))
	}
}

func TestSetLightColorTemperatureResolvesRelativeTerm(t *testing.T) {
	editor := &fakeEditor{resp: editorbridge.Response{Success: true}}
	p, store := newTestPlugin(t, editor)
	if err := store.Create(context.Background(), &session.Context{SessionID: "sess-1", SessionName: "s"}); err != nil {
		t.Fatalf("store.Create: %v", err)
	}

	params, err := p.Preprocess(context.Background(), CommandSetLightColorTemp, map[string]any{
		"session_id":        "sess-1",
		"light_id":          "light-1",
		"color_temperature": "warmer",
	})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	resolved, ok := params["color_temperature"].(float64)
	if !ok || resolved >= defaultSkyColorTemperatureK {
		t.Fatalf("expected resolved temperature below default, got %v", params["color_temperature"])
	}
}

func TestDeleteActorRejectedWithoutActorID(t *testing.T) {
	p, _ := newTestPlugin(t, &fakeEditor{})
	v := p.Validate(CommandDeleteActor, map[string]any{})
	if v.Valid {
		t.Fatal("expected validation failure without actor_id")
	}
}

func TestExecutePropagatesEditorFailure(t *testing.T) {
	boom := &fakeEditor{err: context.Canceled}
	p, _ := newTestPlugin(t, boom)
	result := p.Execute(context.Background(), CommandDeleteActor, map[string]any{"actor_id": "a1"})
	if result.Success {
		t.Fatal("expected failure when editor.Send errors")
	}
	if result.Err == nil {
		t.Fatal("expected non-nil Err")
	}
}
