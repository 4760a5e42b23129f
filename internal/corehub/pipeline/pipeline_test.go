package pipeline

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/scenehub/corehub/internal/config"
	"github.com/scenehub/corehub/internal/corehub/paths"
	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/editorbridge"
	"github.com/scenehub/corehub/internal/platform/logger"
	"github.com/scenehub/corehub/internal/platform/transcoder"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// redirectTransport rewrites every outbound request's scheme/host to target,
// so production code that dials fixed Roblox hostnames can be pointed at an
// httptest.Server without changing those hostnames at the call site.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	clone.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func writeFakeTranscoderScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake_transcoder.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// newTestOrchestrator builds a fully-wired Orchestrator against a temp
// project root and a fake transcoder that always reports success.
func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	root := t.TempDir()
	log := testLogger(t)
	p, err := paths.New(log, root, true)
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	uids, err := uid.New(log, p.UIDStatePath())
	if err != nil {
		t.Fatalf("uid.New: %v", err)
	}
	reg, err := registry.Open(p.ResourceRegistryPath())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	cfg := config.Config{
		PipelineMetadataMaxAttempts:  3,
		PipelineDownloadPollInterval: time.Millisecond,
	}
	script := writeFakeTranscoderScript(t, `echo '{"success": true, "fbx_path": "avatar.fbx"}'`)
	tc := transcoder.New(transcoder.Config{Binary: script, Timeout: 5 * time.Second})

	orch, err := New(log, cfg, uids, reg, p, tc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return orch
}

// wireFakeRoblox points o's Roblox HTTP client at a local httptest.Server
// serving the small slice of the Roblox web API the pipeline calls.
func wireFakeRoblox(t *testing.T, o *Orchestrator, avatarType string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/12345", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 12345, "name": "testuser", "displayName": "Test User"}`))
	})
	mux.HandleFunc("/v1/users/avatar-3d", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state": "Completed", "imageUrl": "https://thumbnails.roblox.com/meta"}`))
	})
	mux.HandleFunc("/meta", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"obj": "objhash", "mtl": "mtlhash", "textures": {}}`))
	})
	mux.HandleFunc("/v1/users/12345/avatar", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"playerAvatarType": "` + avatarType + `"}`))
	})
	mux.HandleFunc("/objhash", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("g player1_head\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"))
	})
	mux.HandleFunc("/mtlhash", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("newmtl skin\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	o.roblox.httpClient = &http.Client{Transport: redirectTransport{target: target}}
	return srv
}

// wireFakeRobloxNoObjContent serves user resolution and avatar-3d metadata
// but leaves the obj content hash unhandled, so every candidate CDN host
// 404s and the model download is fatal.
func wireFakeRobloxNoObjContent(t *testing.T, o *Orchestrator) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/12345", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 12345, "name": "testuser", "displayName": "Test User"}`))
	})
	mux.HandleFunc("/v1/users/avatar-3d", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state": "Completed", "imageUrl": "https://thumbnails.roblox.com/meta"}`))
	})
	mux.HandleFunc("/meta", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"obj": "objhash", "mtl": "", "textures": {}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	o.roblox.httpClient = &http.Client{Transport: redirectTransport{target: target}}
	return srv
}

// wireFakeEditor starts a local TCP listener speaking the editorbridge wire
// protocol and points o's editor config at it.
func wireFakeEditor(t *testing.T, o *Orchestrator, respond func(editorbridge.Request) editorbridge.Response) func() {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				rd := bufio.NewReader(nc)
				for {
					line, err := rd.ReadBytes('\n')
					if err != nil {
						return
					}
					var req editorbridge.Request
					if err := json.Unmarshal(line, &req); err != nil {
						return
					}
					resp := respond(req)
					out, _ := json.Marshal(resp)
					if _, err := nc.Write(append(out, '\n')); err != nil {
						return
					}
				}
			}()
		}
	}()
	tcpAddr := ln.Addr().(*net.TCPAddr)
	o.cfg.EditorHost = tcpAddr.IP.String()
	o.cfg.EditorPort = tcpAddr.Port
	return func() { _ = ln.Close() }
}
