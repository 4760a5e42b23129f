package handlers

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scenehub/corehub/internal/corehub/scenecmd"
	"github.com/scenehub/corehub/internal/corehub/session"
	"github.com/scenehub/corehub/internal/corehub/transform"
	"github.com/scenehub/corehub/internal/http/response"
	"github.com/scenehub/corehub/internal/platform/apierr"
)

// rootRequest is the single body shape POST / accepts. action selects one
// of the session-management operations; its absence means "this is a
// natural-language/command entry", routed through classifyCommand and the
// Dispatcher instead.
type rootRequest struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id"`

	// create_session
	SessionName string `json:"session_name"`

	// command entry
	Prompt           string           `json:"prompt"`
	MainPrompt       string           `json:"main_prompt"`
	ReferencePrompts []string         `json:"reference_prompts"`
	MainImageData    string           `json:"main_image_data"` // base64
	TargetImageUID   string           `json:"target_image_uid"`
	ReferenceImages  []inlineImageRef `json:"reference_images"`
}

type inlineImageRef struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mime_type"`
}

// RootEntry handles POST /: the multiplexed session-management and
// natural-language command entry point.
func RootEntry(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rootRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, apierr.New(apierr.CodeValidationFailed, "invalid request body", err))
			return
		}

		ctx := c.Request.Context()
		switch req.Action {
		case "create_session":
			sessionCtx, err := createSession(ctx, d, createSessionRequest{SessionName: req.SessionName})
			if err != nil {
				response.RespondError(c, err)
				return
			}
			response.RespondCreated(c, gin.H{
				"session_id":    sessionCtx.SessionID,
				"session_name":  sessionCtx.SessionName,
				"created_at":    sessionCtx.CreatedAt,
				"last_accessed": sessionCtx.LastAccessed,
			})
		case "get_context":
			sessionCtx, err := getContext(ctx, d, req.SessionID)
			if err != nil {
				response.RespondError(c, err)
				return
			}
			response.RespondOK(c, gin.H{"context": sessionCtx})
		case "delete_session":
			if err := deleteSession(ctx, d, req.SessionID); err != nil {
				response.RespondError(c, err)
				return
			}
			response.RespondOK(c, gin.H{"success": true, "message": "session deleted"})
		case "":
			handleCommandEntry(c, d, req)
		default:
			response.RespondError(c, apierr.New(apierr.CodeValidationFailed, "unknown action: "+req.Action, nil))
		}
	}
}

// handleCommandEntry implements the natural-language entry point. The
// command core itself only ever receives already-typed {command_type,
// params} objects (see Dispatcher.Dispatch); turning free text into one is
// explicitly outside this module's scope, so classifyCommand is a small
// keyword heuristic standing in for that upstream planner, not a real NLP
// layer.
func handleCommandEntry(c *gin.Context, d *Deps, req rootRequest) {
	ctx := c.Request.Context()

	var sessionCtx *session.Context
	if req.SessionID != "" {
		sc, err := d.Sessions.Get(ctx, req.SessionID)
		if err != nil {
			response.RespondError(c, err)
			return
		}
		sessionCtx = sc
	} else {
		sc, err := createSession(ctx, d, createSessionRequest{})
		if err != nil {
			response.RespondError(c, err)
			return
		}
		sessionCtx = sc
	}

	commandType, params, err := classifyCommand(req)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	params["session_id"] = sessionCtx.SessionID

	result := d.Dispatcher.Dispatch(ctx, commandType, params)

	execResult := session.ExecResult{Success: result.Success}
	if result.Success {
		execResult.Result = result.Result
	} else if result.Err != nil {
		execResult.Error = result.Err.Message
	}

	sessionCtx.AppendMessage(session.Message{
		Timestamp:        time.Now().UTC(),
		Role:             session.RoleUser,
		Content:          req.Prompt,
		Commands:         []session.Command{{Type: commandType, Params: params}},
		ExecutionResults: []session.ExecResult{execResult},
		JobID:            result.JobID,
	})
	if err := d.Sessions.Update(ctx, sessionCtx); err != nil {
		d.Log.Warn("command entry: session update failed", "session_id", sessionCtx.SessionID, "error", err)
	}

	if !result.Success {
		response.RespondError(c, result.Err)
		return
	}

	response.RespondOK(c, gin.H{
		"conversation_context": sessionCtx,
		"ai_processing": gin.H{
			"command_type": commandType,
			"mode":         result.Mode,
		},
		"execution_results": gin.H{
			"success": result.Success,
			"result":  result.Result,
			"job_id":  result.JobID,
		},
		"debug_notes": "command_type resolved by keyword heuristic, not a natural-language planner",
	})
}

// classifyCommand maps free text in req.Prompt to one of the registered
// command types by keyword, and assembles that command's params from the
// structured fields the caller supplied alongside the prompt.
func classifyCommand(req rootRequest) (string, map[string]any, error) {
	prompt := strings.ToLower(req.Prompt)

	params := map[string]any{}
	if req.MainPrompt != "" {
		params["main_prompt"] = req.MainPrompt
	} else if req.Prompt != "" {
		params["main_prompt"] = req.Prompt
	}
	if len(req.ReferencePrompts) > 0 {
		params["reference_prompts"] = req.ReferencePrompts
	}
	if req.TargetImageUID != "" {
		params["target_image_uid"] = req.TargetImageUID
	}
	if raw, mime, ok := decodeInlineImage(req.MainImageData); ok {
		params["main_image_data"] = raw
		params["main_image_mime_type"] = mime
	}
	if refs := decodeReferenceImages(req.ReferenceImages); len(refs) > 0 {
		params["reference_images"] = refs
	}

	switch {
	case containsAny(prompt, "roblox", "avatar"):
		params["user_input"] = req.Prompt
		return "download_and_import_roblox_avatar", params, nil
	case containsAny(prompt, "video", "animate", "clip"):
		params["prompt"] = req.Prompt
		return transform.CommandGenerateVideoFromImage, params, nil
	case containsAny(prompt, "light", "lighting"):
		return scenecmd.CommandCreateLight, params, nil
	case containsAny(prompt, "warmer", "cooler", "color temperature", "kelvin"):
		params["color_temperature"] = req.Prompt
		return scenecmd.CommandSetLightColorTemp, params, nil
	case containsAny(prompt, "sky", "weather"):
		return scenecmd.CommandUpdateSky, params, nil
	default:
		return transform.CommandTransformImageStyle, params, nil
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func decodeInlineImage(b64 string) ([]byte, string, bool) {
	if b64 == "" {
		return nil, "", false
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, "", false
	}
	return raw, "image/png", true
}

func decodeReferenceImages(refs []inlineImageRef) []map[string]any {
	out := make([]map[string]any, 0, len(refs))
	for _, r := range refs {
		raw, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil || len(raw) == 0 {
			continue
		}
		mime := r.MimeType
		if mime == "" {
			mime = "image/png"
		}
		out = append(out, map[string]any{"data": raw, "mime_type": mime})
	}
	return out
}
