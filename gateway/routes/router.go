package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"votechain/gateway/middleware"
	"votechain/ledger"
	"votechain/verification"
)

// RateLimitRoute applies the named limit to every path under Prefix.
type RateLimitRoute struct {
	Prefix string
	Limit  string
}

type Config struct {
	Ledger        *ledger.Ledger
	Verification  *verification.Service
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	RateLimits    []RateLimitRoute
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	AdminRole     string
	ExposeOTP     bool
	Logger        *slog.Logger
}

type server struct {
	ledger    *ledger.Ledger
	workflow  *verification.Service
	exposeOTP bool
	logger    *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if cfg.Verification == nil {
		return nil, errors.New("verification service required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("authenticator required")
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = "admin"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{
		ledger:    cfg.Ledger,
		workflow:  cfg.Verification,
		exposeOTP: cfg.ExposeOTP,
		logger:    cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(cfg.Authenticator.Middleware())
		if cfg.RateLimiter != nil && len(cfg.RateLimits) > 0 {
			api.Use(rateLimitByPrefix(cfg.RateLimiter, cfg.RateLimits))
		}

		api.Get("/voter-profile", s.getProfile)
		api.Post("/voter-profile", s.createProfile)

		api.Route("/verification", func(vr chi.Router) {
			vr.Get("/", s.listSessions)
			vr.Post("/start", s.start)
			vr.Post("/step/{step}", s.advance)
			vr.Post("/biometric", s.biometric)
			vr.Post("/otp/generate", s.generateOTP)
			vr.Post("/otp/verify", s.verifyOTP)
			vr.Post("/ready/complete", s.completeReady)
		})

		api.Route("/admin", func(ar chi.Router) {
			ar.Use(middleware.RequireRole(cfg.AdminRole))
			ar.Get("/sessions", s.adminSessions)
			ar.Get("/blockchain", s.chainStatus)
			ar.Get("/blockchain/report", s.chainReport)
			ar.Get("/blockchain/latest", s.latestBlock)
			ar.Get("/blockchain/blocks/{position}", s.blockAt)
			ar.Get("/blockchain/verify/{hash}", s.verifyBlock)
			ar.Get("/blockchain/stream", s.stream)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "VTC-404", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "VTC-405", "method not allowed", nil)
	})
	return r, nil
}

// rateLimitByPrefix picks the limit of the longest matching prefix.
func rateLimitByPrefix(limiter *middleware.RateLimiter, routes []RateLimitRoute) func(http.Handler) http.Handler {
	sorted := append([]RateLimitRoute(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Prefix) > len(sorted[j].Prefix) })
	return func(next http.Handler) http.Handler {
		limited := make(map[string]http.Handler, len(sorted))
		for _, route := range sorted {
			if _, ok := limited[route.Limit]; !ok {
				limited[route.Limit] = limiter.Middleware(route.Limit)(next)
			}
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, route := range sorted {
				if strings.HasPrefix(r.URL.Path, route.Prefix) {
					limited[route.Limit].ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
