package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/scenehub/corehub/internal/http/response"
	"github.com/scenehub/corehub/internal/platform/apierr"
)

// serveFile streams path as the response body, letting gin/net/http handle
// content-type sniffing and HTTP Range requests the way http.ServeFile
// always has.
func serveFile(c *gin.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		response.RespondError(c, apierr.New(apierr.CodeAssetNotFound, "file not found", err))
		return
	}
	c.File(path)
}

// ScreenshotFile handles GET /api/screenshot-file/:filename, serving
// editor-captured or style-transformed screenshots (whichever directory
// has the requested file).
func ScreenshotFile(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := filepath.Base(c.Param("filename"))
		for _, dir := range []string{d.Paths.StyledScreenshotsDir(), d.Paths.ScreenshotsDir()} {
			path := filepath.Join(dir, filename)
			if _, err := os.Stat(path); err == nil {
				c.File(path)
				return
			}
		}
		response.RespondError(c, apierr.New(apierr.CodeAssetNotFound, "screenshot not found: "+filename, nil))
	}
}

// VideoFile handles GET /api/video-file/:filename.
func VideoFile(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := filepath.Base(c.Param("filename"))
		serveFile(c, filepath.Join(d.Paths.GeneratedVideosDir(), filename))
	}
}

// Object3DFile handles GET /3d-object/:uid, serving whichever file the
// Resource Registry has on record for uid.
func Object3DFile(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		uidParam := c.Param("uid")
		rec, err := d.Registry.Get(uidParam)
		if err != nil {
			response.RespondError(c, err)
			return
		}
		serveFile(c, filepath.Join(d.Paths.Object3DDir(rec.UID), rec.Filename))
	}
}

// LatestImageThumbnail handles GET
// /api/session/:id/latest-image/thumbnail: the binary target of the
// thumbnail_url the latest-image endpoint returns. Renders on demand from
// the session's newest image record rather than persisting a cache file,
// since it is cheap to regenerate and a session's "latest" image changes
// often.
func LatestImageThumbnail(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		records := d.Registry.ListBySession(sessionID)

		for i := len(records) - 1; i >= 0; i-- {
			rec := records[i]
			if rec.Kind != "image" {
				continue
			}
			dir := d.Paths.StyledScreenshotsDir()
			raw, err := os.ReadFile(filepath.Join(dir, rec.Filename))
			if err != nil {
				raw, err = os.ReadFile(filepath.Join(d.Paths.ScreenshotsDir(), rec.Filename))
			}
			if err != nil {
				response.RespondError(c, apierr.New(apierr.CodeAssetNotFound, "source image file missing", err))
				return
			}
			png, err := d.Thumbnails.Generate(raw, string(rec.Kind), 0)
			if err != nil {
				response.RespondError(c, apierr.New(apierr.CodeStorageError, "thumbnail generation failed", err))
				return
			}
			c.Data(http.StatusOK, "image/png", png)
			return
		}
		response.RespondError(c, apierr.New(apierr.CodeAssetNotFound, "no image available for session", nil))
	}
}
