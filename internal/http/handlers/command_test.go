package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/scenehub/corehub/internal/corehub/scenecmd"
	"github.com/scenehub/corehub/internal/corehub/transform"
	"github.com/scenehub/corehub/internal/platform/editorbridge"
)

func TestClassifyCommandRoutesByKeyword(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"please fetch my roblox avatar", "download_and_import_roblox_avatar"},
		{"animate this into a video", transform.CommandGenerateVideoFromImage},
		{"add some dramatic lighting", scenecmd.CommandCreateLight},
		{"make the scene warmer", scenecmd.CommandSetLightColorTemp},
		{"change the sky to stormy weather", scenecmd.CommandUpdateSky},
		{"give this a watercolor style", transform.CommandTransformImageStyle},
	}
	for _, tc := range cases {
		commandType, _, err := classifyCommand(rootRequest{Prompt: tc.prompt})
		if err != nil {
			t.Fatalf("classifyCommand(%q): %v", tc.prompt, err)
		}
		if commandType != tc.want {
			t.Fatalf("classifyCommand(%q) = %q, want %q", tc.prompt, commandType, tc.want)
		}
	}
}

func TestRootEntryCreateSession(t *testing.T) {
	d := newTestDeps(t)
	rec := doJSON(t, RootEntry(d), http.MethodPost, "/",
		rootRequest{Action: "create_session", SessionName: "My Scene"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRootEntryGetContextNotFound(t *testing.T) {
	d := newTestDeps(t)
	rec := doJSON(t, RootEntry(d), http.MethodPost, "/",
		rootRequest{Action: "get_context", SessionID: "missing"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRootEntryUnknownAction(t *testing.T) {
	d := newTestDeps(t)
	rec := doJSON(t, RootEntry(d), http.MethodPost, "/",
		rootRequest{Action: "not_a_real_action"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRootEntryCommandDispatchesToRegisteredPlugin(t *testing.T) {
	d := newTestDeps(t)
	editor := &fakeEditorForCommandTest{}
	if err := d.Plugins.Register(scenecmd.New(d.Log, editor, d.Sessions)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := doJSON(t, RootEntry(d), http.MethodPost, "/",
		rootRequest{Prompt: "turn on the lights, make it brighter"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

type fakeEditorForCommandTest struct{}

func (f *fakeEditorForCommandTest) Send(_ context.Context, _ editorbridge.Request) (editorbridge.Response, error) {
	return editorbridge.Response{Success: true, Result: map[string]any{"light_id": "light-1"}}, nil
}
func (f *fakeEditorForCommandTest) Close() error { return nil }
