package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/proxychecker/internal/domain"
	apimw "github.com/hamed0406/proxychecker/internal/httpapi/middleware"
	"github.com/hamed0406/proxychecker/internal/probe"
	"github.com/hamed0406/proxychecker/internal/repo"
)

// Tasks is the part of the scheduler the API drives.
type Tasks interface {
	Start(t domain.Target)
	Cancel(id domain.TargetID)
	IsRunning(id domain.TargetID) bool
}

type DNSDiagnoser interface {
	Diagnose(ctx context.Context, name string) probe.DNSStatus
}

type Server struct {
	Logger  *zap.Logger
	Targets repo.TargetStore
	History repo.HistoryStore
	Tasks   Tasks
	Prober  probe.Prober
	DNS     DNSDiagnoser // optional
}

func NewServer(l *zap.Logger, ts repo.TargetStore, hs repo.HistoryStore, tasks Tasks, p probe.Prober, dns DNSDiagnoser) *Server {
	return &Server{Logger: l, Targets: ts, History: hs, Tasks: tasks, Prober: p, DNS: dns}
}

// Router wires routes. Reads need a public or admin key, writes and
// on-demand checks need an admin key. Each group has its own limiter.
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(origins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Group(func(pub chi.Router) {
			pub.Use(apimw.RateLimit(pubRPM, pubBurst))
			pub.Use(apimw.RequireAny(keys))
			pub.Get("/targets", s.handleListTargets)
			pub.Get("/targets/{id}", s.handleGetTarget)
			pub.Get("/targets/{id}/status", s.handleStatus)
			pub.Get("/targets/{id}/history", s.handleHistory)
			pub.Get("/http", s.handleListByKind(domain.KindHTTP))
			pub.Get("/proxy", s.handleListByKind(domain.KindProxy))
		})
		api.Group(func(adm chi.Router) {
			adm.Use(apimw.RateLimit(admRPM, admBurst))
			adm.Use(apimw.RequireAdmin(keys))
			adm.Post("/targets", s.handleCreateTarget)
			adm.Put("/targets/{id}", s.handleUpdateTarget)
			adm.Delete("/targets/{id}", s.handleDeleteTarget)
			adm.Post("/check", s.handleCheck)
		})
	})

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// fail maps store and validation errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "target not found")
	case errors.Is(err, domain.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.Logger.Error(op+"_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func targetID(r *http.Request) (domain.TargetID, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return domain.TargetID(n), true
}
