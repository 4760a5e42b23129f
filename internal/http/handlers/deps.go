// Package handlers implements the HTTP surface's gin handlers: every
// request is translated into a call against one of the already-wired
// corehub components, with every error routed through
// response.RespondError so apierr.Error.Status() is the only place status
// codes are decided.
package handlers

import (
	"github.com/scenehub/corehub/internal/config"
	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	"github.com/scenehub/corehub/internal/corehub/paths"
	"github.com/scenehub/corehub/internal/corehub/plugin"
	"github.com/scenehub/corehub/internal/corehub/refstore"
	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/corehub/session"
	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/logger"
	"github.com/scenehub/corehub/internal/platform/thumbnail"
)

// Deps bundles every dependency a handler needs. Handlers are plain
// functions closing over a *Deps rather than one struct per route group,
// since most routes need the same core set (sessions, dispatcher, jobs).
type Deps struct {
	Log        *logger.Logger
	Cfg        config.Config
	Sessions   *session.Store
	Registry   *registry.Registry
	Refs       *refstore.Store
	Paths      *paths.Resolver
	UIDs       *uid.Allocator
	Dispatcher *plugin.Dispatcher
	Plugins    *plugin.Registry
	Jobs       *jobmanager.Manager
	Thumbnails *thumbnail.Renderer
}
