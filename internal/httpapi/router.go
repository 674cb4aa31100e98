package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/web3-authn/threshold-relayer/internal/authorize"
	"github.com/web3-authn/threshold-relayer/internal/config"
	"github.com/web3-authn/threshold-relayer/internal/keygen"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/session"
	"github.com/web3-authn/threshold-relayer/internal/signing"
)

// corsConfiguration follows the pack's default-permissive-API-CORS
// shape: any origin, the usual verbs, bearer auth allowed through.
var corsConfiguration = cors.Options{
	AllowOriginFunc:  func(_ *http.Request, _ string) bool { return true },
	AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
	AllowCredentials: true,
	MaxAge:           300,
}

// Services bundles every service handler construction needs.
type Services struct {
	Keygen  *keygen.Service
	Authorize *authorize.Service
	Session *session.Service
	Signing *signing.Service
	NodeRole config.NodeRole
}

// NewRouter builds the full chi.Mux for the relayer's HTTP surface.
func NewRouter(svc Services) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsConfiguration))

	h := &handlers{svc: svc}

	r.Route("/threshold-ed25519", func(r chi.Router) {
		r.Post("/keygen", h.keygen)
		r.Post("/authorize", gateCoordinator(svc.NodeRole, h.authorize))
		r.Post("/session", gateCoordinator(svc.NodeRole, h.createSession))
		r.Post("/authorize-with-session", gateCoordinator(svc.NodeRole, h.authorizeWithSession))
		r.Post("/sign/init", gateCoordinator(svc.NodeRole, h.signInit))
		r.Post("/sign/finalize", gateCoordinator(svc.NodeRole, h.signFinalize))
		r.Route("/internal", func(r chi.Router) {
			r.Post("/cosign/init", h.cosignInit)
			r.Post("/cosign/finalize", h.cosignFinalize)
		})
	})

	return r
}

// gateCoordinator refuses a handler with not_found on any node that
// isn't configured as the fan-out coordinator, per spec.md §6's
// THRESHOLD_NODE_ROLE rule.
func gateCoordinator(role config.NodeRole, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if role != config.NodeRoleCoordinator {
			writeErr(w, rerr.New(rerr.CodeNotFound, "endpoint disabled on this node role"))
			return
		}
		next(w, r)
	}
}

type handlers struct {
	svc Services
}
