package httpapi

import (
	"context"
	"crypto/rsa"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse/server/internal/gatehouse/service"
	"github.com/gatehouse/server/internal/gatehouse/types"
)

type Dependencies struct {
	Logger *log.Logger
	Addr   string

	GrantService  *service.GrantService
	Reconciler    *service.Reconciler
	StatusService *service.DoorStatusService

	// PublicKey verifies caller bearer tokens.  May be nil only when
	// AllowTestToken is set.
	PublicKey      *rsa.PublicKey
	AllowTestToken bool

	// DefaultLookback bounds /access/log queries with no explicit limit.
	DefaultLookback time.Duration
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger

	grants   *service.GrantService
	sweeper  *service.Reconciler
	status   *service.DoorStatusService
	errorLog *ErrorLog

	allowTestToken  bool
	defaultLookback time.Duration
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger:          d.Logger,
		grants:          d.GrantService,
		sweeper:         d.Reconciler,
		status:          d.StatusService,
		errorLog:        NewErrorLog(),
		allowTestToken:  d.AllowTestToken,
		defaultLookback: d.DefaultLookback,
	}
	if s.defaultLookback <= 0 {
		s.defaultLookback = time.Hour
	}

	r := chi.NewRouter()

	r.Get("/", s.handleStatus)
	r.Get("/stats-public", s.handlePublicStats)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return bearerAuth(d.PublicKey, d.AllowTestToken, next)
		})

		r.Post("/access/generate", s.handleGenerate)
		r.Get("/access/log", s.handleUsageLog)
		r.Get("/error-log", s.handleErrorLog)
		r.Post("/tester/cleanup", s.handleTesterCleanup)
		r.Post("/tester/simulate-error", s.handleSimulateError)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, r),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Gatehouse is active."})
}

func (s *Server) handlePublicStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"doors": s.status.Stats(r.Context()),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GrantRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	// Validity overrides are a test-mode convenience only; production
	// callers always get the configured validity.
	var ttl time.Duration
	if req.OverrideTimeout > 0 && s.allowTestToken {
		ttl = time.Duration(req.OverrideTimeout * float64(time.Second))
	}

	lease, err := s.grants.Issue(r.Context(), req.GrantID, req.HolderID, req.Prefix, ttl)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidGrantID),
			errors.Is(err, service.ErrInvalidHolderID),
			errors.Is(err, service.ErrInvalidPrefix):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		case errors.Is(err, service.ErrCardCreation):
			s.recordError(err)
			writeError(w, http.StatusBadGateway, "card_creation_failed", err.Error())
			return
		default:
			s.recordError(err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
	}

	writeJSON(w, http.StatusOK, types.GrantResponse{
		AccessKey: lease.CardNo,
		CreatedAt: lease.CreatedAt.Format(time.RFC3339),
		ExpiresAt: lease.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleUsageLog(w http.ResponseWriter, r *http.Request) {
	lookback := s.defaultLookback
	if v := r.URL.Query().Get("timeLimitSeconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lookback = time.Duration(n) * time.Second
		}
	}

	writeJSON(w, http.StatusOK, s.status.UsageLog(r.Context(), lookback))
}

func (s *Server) handleErrorLog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.errorLog.Entries())
}

func (s *Server) handleTesterCleanup(w http.ResponseWriter, r *http.Request) {
	if !s.allowTestToken {
		writeError(w, http.StatusForbidden, "not_allowed", "test mode not active")
		return
	}
	if err := s.sweeper.Sweep(r.Context()); err != nil {
		s.recordError(err)
		writeError(w, http.StatusInternalServerError, "sweep_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSimulateError(w http.ResponseWriter, _ *http.Request) {
	if !s.allowTestToken {
		writeError(w, http.StatusForbidden, "not_allowed", "test mode not active")
		return
	}
	err := errors.New("Simulated error")
	s.recordError(err)
	writeError(w, http.StatusInternalServerError, "simulated_error", err.Error())
}

func (s *Server) recordError(err error) {
	s.logger.Printf("request error: %v", err)
	s.errorLog.Add(err.Error())
}
