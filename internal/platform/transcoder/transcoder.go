// Package transcoder invokes the external OBJ-to-FBX conversion process
// used by the asset pipeline's convert sub-job. The external process is a
// headless-renderer script bundled with a base scene file; it is expected
// to print exactly one JSON summary object on its last line of output,
// which this package parses to learn the resulting FBX path and whether
// the run succeeded.
package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/scenehub/corehub/internal/platform/apierr"
)

// Summary is the JSON object the external process prints on its last
// output line.
type Summary struct {
	Success bool   `json:"success"`
	FBXPath string `json:"fbx_path"`
	Error   string `json:"error,omitempty"`
}

// Config wires the external binary and base scene file.
type Config struct {
	Binary    string
	BaseScene string
	Timeout   time.Duration
}

// Transcoder runs the external OBJ->FBX converter.
type Transcoder struct {
	cfg Config
}

// New constructs a Transcoder. A zero Timeout defaults to 300 seconds.
func New(cfg Config) *Transcoder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &Transcoder{cfg: cfg}
}

// Convert runs the external process against objPath, writing output into
// outDir, and returns the parsed summary. A non-zero exit code, a timeout,
// or a summary with Success == false are all reported as
// AVATAR_PROCESSING_FAILED so the caller can roll back any UID it
// allocated for this attempt.
func (t *Transcoder) Convert(ctx context.Context, objPath, outDir string) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	args := []string{objPath, outDir}
	if t.cfg.BaseScene != "" {
		args = append([]string{"--base-scene", t.cfg.BaseScene}, args...)
	}

	cmd := exec.CommandContext(ctx, t.cfg.Binary, args...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return Summary{}, apierr.New(apierr.CodeAvatarProcessingFail, "transcoder timed out after "+t.cfg.Timeout.String(), ctx.Err())
	}
	if err != nil {
		return Summary{}, apierr.New(apierr.CodeAvatarProcessingFail, "transcoder process failed: "+truncate(string(output), 2000), err)
	}

	summary, parseErr := parseLastLineJSON(output)
	if parseErr != nil {
		return Summary{}, apierr.New(apierr.CodeAvatarProcessingFail, "transcoder produced no parseable summary: "+parseErr.Error(), parseErr)
	}
	if !summary.Success {
		return summary, apierr.New(apierr.CodeAvatarProcessingFail, "transcoder reported failure: "+summary.Error, nil)
	}
	return summary, nil
}

func parseLastLineJSON(output []byte) (Summary, error) {
	lines := bytes.Split(bytes.TrimRight(output, "\n"), []byte("\n"))
	if len(lines) == 0 {
		return Summary{}, fmt.Errorf("empty transcoder output")
	}
	last := strings.TrimSpace(string(lines[len(lines)-1]))
	var s Summary
	if err := json.Unmarshal([]byte(last), &s); err != nil {
		return Summary{}, fmt.Errorf("parse last output line as JSON: %w", err)
	}
	return s, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
