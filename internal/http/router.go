// Package http assembles the gin router and server implementing the
// module's external HTTP surface.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/scenehub/corehub/internal/http/handlers"
	"github.com/scenehub/corehub/internal/http/middleware"
)

// NewRouter builds the full route table over d.
func NewRouter(d *handlers.Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.CORS(d.Cfg.CORSOrigins))
	r.Use(middleware.RequestLogger(d.Log))

	r.GET("/health", handlers.Health)
	r.POST("/", handlers.RootEntry(d))
	r.GET("/sessions", handlers.ListSessions(d))

	api := r.Group("/api")
	api.PUT("/sessions/:id/name", handlers.RenameSession(d))
	api.POST("/sessions/:id/references", handlers.UploadReferences(d))
	api.GET("/sessions/:id/references", handlers.ListReferences(d))
	api.GET("/session/:id/latest-image", handlers.LatestImage(d))
	api.GET("/session/:id/latest-image/thumbnail", handlers.LatestImageThumbnail(d))
	api.GET("/roblox-status/:uid", handlers.RobloxStatus(d))
	api.GET("/roblox-cancel/:uid", handlers.RobloxCancel(d))
	api.GET("/roblox-file/:uid/:kind", handlers.RobloxFile(d))
	api.GET("/roblox-cleanup", handlers.RobloxCleanup(d))
	api.GET("/screenshot-file/:filename", handlers.ScreenshotFile(d))
	api.GET("/video-file/:filename", handlers.VideoFile(d))

	r.GET("/3d-object/:uid", handlers.Object3DFile(d))

	return r
}
