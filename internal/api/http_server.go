package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"intake/internal/config"
	"intake/internal/export"
	"intake/internal/metrics"
	"intake/internal/models"
	"intake/internal/remote"
	"intake/internal/service"

	"github.com/rs/zerolog"
)

type EntryLister interface {
	ListEntries(ctx context.Context, ownerID string) ([]models.ListEntry, error)
}

type DraftSaver interface {
	SaveDraft(ctx context.Context, form models.FormData, step, subStep int, incremental bool, changed models.FormData) (service.Result, error)
}

type QueueReader interface {
	GetQueue(ctx context.Context) ([]models.Task, error)
	DeadLetters(ctx context.Context) ([]models.DeadLetter, error)
}

type SyncTrigger interface {
	ProcessQueue(ctx context.Context) (models.ReplaySummary, bool)
}

type NetworkSignal interface {
	Online() bool
	SetOnline(online bool) bool
}

// Handlers are the collaborators behind the HTTP endpoints.
type Handlers struct {
	Entries EntryLister
	Drafts  DraftSaver
	Queue   QueueReader
	Sync    SyncTrigger
	Network NetworkSignal
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
	// ExportDir is where server-side XLSX exports are written.
	ExportDir string
}

// HTTPServer is the local API used by the intake UI and operators.
type HTTPServer struct {
	cfg      config.APIConfig
	handlers Handlers
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, h Handlers, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, handlers: h, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", srv.handleReady)
	mux.HandleFunc("/api/v1/entries", srv.handleEntries)
	mux.HandleFunc("/api/v1/entries.xlsx", srv.handleEntriesExport)
	mux.HandleFunc("/api/v1/entries/export", srv.handleEntriesSave)
	mux.HandleFunc("/api/v1/queue", srv.handleQueue)
	mux.HandleFunc("/api/v1/queue/failed", srv.handleFailed)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/drafts", srv.handleDrafts)
	mux.HandleFunc("/api/v1/network", srv.handleNetwork)

	handler := loggingMiddleware(logger, srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.handlers.Ready(ctx); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *HTTPServer) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries, err := s.handlers.Entries.ListEntries(r.Context(), strings.TrimSpace(r.URL.Query().Get("owner")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *HTTPServer) handleEntriesExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries, err := s.handlers.Entries.ListEntries(r.Context(), strings.TrimSpace(r.URL.Query().Get("owner")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="entries.xlsx"`)
	if err := export.WriteEntries(w, entries, time.Now()); err != nil {
		s.logger.Error().Err(err).Msg("export entries")
	}
}

// handleEntriesSave writes the export next to the service instead of
// streaming it back.
func (s *HTTPServer) handleEntriesSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.handlers.ExportDir == "" {
		writeError(w, http.StatusNotFound, "exports are disabled")
		return
	}
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	entries, err := s.handlers.Entries.ListEntries(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if owner == "" && len(entries) > 0 {
		owner = entries[0].OwnerID
	}
	path, err := export.SaveEntries(s.handlers.ExportDir, owner, entries, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("save export")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": path, "count": len(entries)})
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tasks, err := s.handlers.Queue.GetQueue(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *HTTPServer) handleFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	letters, err := s.handlers.Queue.DeadLetters(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters, "count": len(letters)})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.handlers.Network != nil && !s.handlers.Network.Online() {
		writeError(w, http.StatusServiceUnavailable, "offline")
		return
	}
	summary, ran := s.handlers.Sync.ProcessQueue(r.Context())
	if !ran {
		writeError(w, http.StatusConflict, "sync already running or no active session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "message": summary.Message()})
}

type draftRequest struct {
	Form        models.FormData `json:"form"`
	Step        int             `json:"step"`
	SubStep     int             `json:"sub_step"`
	Incremental bool            `json:"incremental"`
	Changed     models.FormData `json:"changed,omitempty"`
}

func (s *HTTPServer) handleDrafts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body draftRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Form == nil {
		body.Form = models.FormData{}
	}

	res, err := s.handlers.Drafts.SaveDraft(r.Context(), body.Form, body.Step, body.SubStep, body.Incremental, body.Changed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	statusCode := http.StatusOK
	if res.Queued {
		statusCode = http.StatusAccepted
	}
	writeJSON(w, statusCode, res)
}

func (s *HTTPServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"online": s.handlers.Network.Online()})
	case http.MethodPost:
		var body struct {
			Online *bool `json:"online"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
			writeError(w, http.StatusBadRequest, "online is required")
			return
		}
		changed := s.handlers.Network.SetOnline(*body.Online)
		writeJSON(w, http.StatusOK, map[string]any{"online": *body.Online, "changed": changed})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNoActor):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, service.ErrInvalidCorrelationID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, remote.ErrPermission):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(r.URL.Path)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
