// Package httpapi is the thin REST transport spec.md §6 names as an
// out-of-core collaborator, given one concrete home here so the pipeline
// engine has a real caller: chi routing, CORS, and bearer-token auth
// delegate every business decision to the engine/store packages.
package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fyreflow/engine/internal/engine"
	"github.com/fyreflow/engine/internal/store"
)

// Deps wires the handlers' dependencies.
type Deps struct {
	Store       *store.Store
	Registry    *engine.Registry
	Scheduler   *engine.Scheduler
	BaseStorage string
	AuthToken   string
	CORSOrigins []string
	Log         *slog.Logger

	// Realtime, if set, is mounted at /api/ws. It authenticates itself
	// (bearer header or Sec-WebSocket-Protocol subprotocol) independently
	// of authMiddleware, since the WS handshake can't carry a header the
	// way a REST client can in every browser environment.
	Realtime http.Handler
}

// NewRouter builds the chi router implementing spec.md §6's endpoint table.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: len(deps.CORSOrigins) > 0,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)

	if deps.Realtime != nil {
		r.Handle("/api/ws", deps.Realtime)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.AuthToken != "" {
			r.Use(authMiddleware(deps.AuthToken))
		}

		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", h.listPipelines)
			r.Post("/", h.upsertPipeline)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", h.upsertPipelineByID)
				r.Delete("/", h.deletePipeline)
				r.Post("/runs", h.createRun)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.listRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getRun)
				r.Post("/stop", h.stopRun)
				r.Post("/pause", h.pauseRun)
				r.Post("/resume", h.resumeRun)
				r.Post("/approvals/{approvalID}", h.resolveApproval)
			})
		})
	})

	return r
}

// authMiddleware checks Authorization: Bearer <token> via constant-time
// comparison, per spec.md §6's API_AUTH_TOKEN requirement.
func authMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got := bearerToken(req)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func bearerToken(req *http.Request) string {
	const prefix = "Bearer "
	h := req.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
