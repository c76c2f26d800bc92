package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"enginemanager/src/engine"
	"enginemanager/src/repository"
)

// Server is the operational HTTP surface: health, engine status and a
// pass-through for control actions. It is not the management CRUD API.
type Server struct {
	registry *engine.Registry
	db       *gorm.DB
	cfg      *Config
}

func NewServer(registry *engine.Registry, db *gorm.DB, cfg *Config) *Server {
	return &Server{registry: registry, db: db, cfg: cfg}
}

// Router builds the chi router. Exposed so tests can drive handlers
// without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Route("/api/engine", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Post("/actions/{action}", s.handleAction)
			r.Get("/positions", s.handlePositions)
			r.Get("/orders", s.handleOrders)
			r.Get("/risk-logs", s.handleRiskLogs)
			r.Get("/transactions", s.handleTransactions)
		})
	})

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) {
	srv := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.Router(),
	}

	go func() {
		logger.Infof("Listening on :%s", s.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}

// ProjectStatus is one row of the status response.
type ProjectStatus struct {
	ProjectID     int64          `json:"project_id"`
	Name          string         `json:"name"`
	EngineInfo    map[string]any `json:"engine_info,omitempty"`
	Live          bool           `json:"live"`
	Initializing  bool           `json:"initializing"`
	OpenPositions int64          `json:"open_positions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projects := repository.NewProjectRepositoryWithDB(s.db)
	positions := repository.NewPositionRepositoryWithDB(s.db)

	active, err := projects.FindActive(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	clients := s.registry.Snapshot()
	out := make([]ProjectStatus, 0, len(active))
	for i := range active {
		p := &active[i]
		key := strconv.FormatInt(p.ID, 10)

		live := false
		if c, ok := clients[key]; ok {
			live = c.Alive()
		}
		open, err := positions.CountOpen(ctx, p.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		out = append(out, ProjectStatus{
			ProjectID:     p.ID,
			Name:          p.Name,
			EngineInfo:    p.EngineInfo,
			Live:          live,
			Initializing:  s.registry.IsInitializing(key),
			OpenPositions: open,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// handleAction forwards one control action to the project's worker and
// relays the reply. Unknown clients map to 404, unreachable workers to 503.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	action := chi.URLParam(r, "action")

	var params map[string]any
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	data, err := s.registry.SendAction(r.Context(), projectID, action, params)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrClientNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, engine.ErrRemoteUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if _, err := w.Write(data); err != nil {
		logger.WithError(err).Error("action response write error")
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	pid, ok := parseProjectID(w, r)
	if !ok {
		return
	}
	rows, err := repository.NewPositionRepositoryWithDB(s.db).FindOpen(r.Context(), pid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	pid, ok := parseProjectID(w, r)
	if !ok {
		return
	}
	rows, err := repository.NewOrderRepositoryWithDB(s.db).FindRecent(r.Context(), pid, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRiskLogs(w http.ResponseWriter, r *http.Request) {
	pid, ok := parseProjectID(w, r)
	if !ok {
		return
	}
	rows, err := repository.NewRiskLogRepositoryWithDB(s.db).FindRecent(r.Context(), pid, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	pid, ok := parseProjectID(w, r)
	if !ok {
		return
	}
	rows, err := repository.NewTransactionRepositoryWithDB(s.db).FindRecent(r.Context(), pid, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseProjectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	pid, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return 0, false
	}
	return pid, true
}

func parseLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("response write error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
