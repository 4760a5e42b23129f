package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scenehub/corehub/internal/corehub/session"
	"github.com/scenehub/corehub/internal/http/response"
	"github.com/scenehub/corehub/internal/platform/apierr"
)

type createSessionRequest struct {
	SessionName string `json:"session_name"`
}

func createSession(ctx context.Context, d *Deps, req createSessionRequest) (*session.Context, error) {
	name := req.SessionName
	if name == "" {
		name = "Untitled Session"
	}
	c := &session.Context{
		SessionID:   "sess_" + uuid.NewString(),
		SessionName: name,
	}
	if err := d.Sessions.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func getContext(ctx context.Context, d *Deps, sessionID string) (*session.Context, error) {
	if sessionID == "" {
		return nil, apierr.New(apierr.CodeValidationFailed, "session_id is required", nil)
	}
	return d.Sessions.Get(ctx, sessionID)
}

func deleteSession(ctx context.Context, d *Deps, sessionID string) error {
	if sessionID == "" {
		return apierr.New(apierr.CodeValidationFailed, "session_id is required", nil)
	}
	if _, err := d.Sessions.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := d.Sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	if _, err := d.Registry.DeleteBySession(sessionID); err != nil {
		d.Log.Warn("delete_session: registry cleanup failed", "session_id", sessionID, "error", err)
	}
	return nil
}

type sessionSummary struct {
	SessionID        string    `json:"session_id"`
	SessionName      string    `json:"session_name"`
	CreatedAt        time.Time `json:"created_at"`
	LastAccessed     time.Time `json:"last_accessed"`
	InteractionCount int       `json:"interaction_count"`
}

// ListSessions handles GET /sessions.
func ListSessions(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := d.Sessions.List(c.Request.Context(), 0, 0)
		if err != nil {
			response.RespondError(c, err)
			return
		}
		out := make([]sessionSummary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionSummary{
				SessionID:        s.SessionID,
				SessionName:      s.SessionName,
				CreatedAt:        s.CreatedAt,
				LastAccessed:     s.LastAccessed,
				InteractionCount: len(s.ConversationHistory),
			})
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].LastAccessed.After(out[j].LastAccessed)
		})
		response.RespondOK(c, gin.H{"sessions": out})
	}
}

type renameSessionRequest struct {
	SessionName string `json:"session_name"`
}

// RenameSession handles PUT /api/sessions/:id/name.
func RenameSession(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		var req renameSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SessionName == "" {
			response.RespondError(c, apierr.New(apierr.CodeValidationFailed, "session_name is required", err))
			return
		}
		ctxDoc, err := d.Sessions.Get(c.Request.Context(), sessionID)
		if err != nil {
			response.RespondError(c, err)
			return
		}
		ctxDoc.SessionName = req.SessionName
		if err := d.Sessions.Update(c.Request.Context(), ctxDoc); err != nil {
			response.RespondError(c, err)
			return
		}
		response.RespondOK(c, gin.H{"success": true, "session_id": sessionID, "session_name": ctxDoc.SessionName})
	}
}

type latestImage struct {
	UID          string `json:"uid"`
	Filename     string `json:"filename"`
	ThumbnailURL string `json:"thumbnail_url"`
	Available    bool   `json:"available"`
}

// LatestImage handles GET /api/session/:id/latest-image.
func LatestImage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		records := d.Registry.ListBySession(sessionID)

		for i := len(records) - 1; i >= 0; i-- {
			rec := records[i]
			if rec.Kind != "image" {
				continue
			}
			response.RespondOK(c, gin.H{
				"success": true,
				"latest_image": latestImage{
					UID:          rec.UID,
					Filename:     rec.Filename,
					ThumbnailURL: "/api/session/" + sessionID + "/latest-image/thumbnail",
					Available:    true,
				},
			})
			return
		}

		response.RespondOK(c, gin.H{
			"success":      true,
			"latest_image": latestImage{Available: false},
		})
	}
}
