package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opencode-ai/codeagent/pkg/types"
)

type ctxKey struct{}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Heartbeat("/health"))

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Use(s.sessionCtx)
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)
			r.Delete("/", s.deleteSession)
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)
			r.Get("/state", s.getSessionState)
			r.Post("/abort", s.abortSession)
			r.Get("/permission", s.listPermissions)
		})
	})

	r.Route("/permission", func(r chi.Router) {
		r.Get("/", s.listPermissions)
		r.Post("/{requestID}", s.respondPermission)
	})

	r.Get("/event", s.events)
	r.Get("/provider", s.listModels)
	r.Get("/tool", s.listTools)
	r.Get("/mcp", s.mcpStatus)
}

// sessionCtx loads the session named in the URL, answering 404 for unknown
// ids, and passes it on in the request context.
func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Store.Get(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *types.Session {
	sess, _ := r.Context().Value(ctxKey{}).(*types.Session)
	return sess
}
