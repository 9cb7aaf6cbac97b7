// Package httpapi wires the orchestrator's HTTP surface: routing, CORS,
// request logging, tracing, and the handlers for the endpoints spec.md §6
// names. Grounded on the teacher's functional middleware-wrapping-
// http.Handler idiom (core/cors.go, core/middleware.go) using only net/http
// + stdlib ServeMux, matching the teacher's avoidance of a third-party
// router, plus the teacher's otelhttp wrapping (telemetry/http.go) for the
// outermost tracing layer.
package httpapi

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/driftkit/taskgraph/core"
)

// Server owns the ServeMux and every collaborator a handler needs.
type Server struct {
	mux      *http.ServeMux
	config   *core.Config
	logger   core.Logger
	handlers *Handlers
}

// NewServer builds the routed mux. The tracing, CORS and request logging
// middleware are added by Handler, not here.
func NewServer(config *core.Config, handlers *Handlers) *Server {
	logger := config.Logger()
	s := &Server{mux: http.NewServeMux(), config: config, logger: logger, handlers: handlers}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/orchestrate", s.handlers.Orchestrate)
	s.mux.HandleFunc("POST /api/plan", s.handlers.Plan)
	s.mux.HandleFunc("GET /api/orchestrate/graph", s.handlers.Graph)
	s.mux.HandleFunc("GET /api/config", s.handlers.GetConfig)
	s.mux.HandleFunc("POST /api/config", s.handlers.UpdateConfig)
	s.mux.HandleFunc("POST /api/chat/simple", s.handlers.ChatSimple)
}

// Handler returns the fully wrapped http.Handler ready to pass to
// http.Server: tracing outermost (so a span covers CORS preflight handling
// too), then CORS, then request logging, then routing.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = core.LoggingMiddleware(s.logger, s.config.Development.DebugLogging)(h)
	h = core.CORSMiddleware(&s.config.HTTP.CORS)(h)
	h = otelhttp.NewHandler(h, s.config.Tracing.ServiceName)
	return h
}
