package http

import (
	"github.com/gin-gonic/gin"

	"github.com/scenehub/corehub/internal/http/handlers"
)

// Server wraps the gin engine for the app package to run and shut down.
type Server struct {
	Engine *gin.Engine
}

// NewServer builds a Server with the full route table wired over d.
func NewServer(d *handlers.Deps) *Server {
	return &Server{Engine: NewRouter(d)}
}

// Run blocks serving HTTP on address (":8080", for example).
func (s *Server) Run(address string) error {
	return s.Engine.Run(address)
}
