// Package handlers provides the HTTP API for browsing and running debates.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alienxp03/deepdiscussion/internal/core"
	"github.com/alienxp03/deepdiscussion/internal/engine"
	"github.com/alienxp03/deepdiscussion/internal/export"
	"github.com/alienxp03/deepdiscussion/internal/storage"
	"github.com/alienxp03/deepdiscussion/provider"
)

// DebateTimeout bounds a debate started over HTTP.
const DebateTimeout = 30 * time.Minute

// Launcher prepares the model client and engine options for a roster.
// A nil roster selects the configured default participants.
type Launcher func(participants []core.Participant) (engine.ModelClient, engine.Options, error)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	storage     storage.Storage
	registry    *provider.Registry
	launch      Launcher
	exportOpts  export.Options
	healthCache *healthCache

	streamInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithHealthCache stores provider check results at path. An empty path keeps
// them in memory only.
func WithHealthCache(path string, ttl time.Duration) Option {
	return func(h *Handler) {
		h.healthCache = newHealthCache(path, ttl)
	}
}

// New creates a new Handler. launch may be nil, which disables starting debates.
// Health checks are cached next to the default database unless an option says otherwise.
func New(store storage.Storage, registry *provider.Registry, launch Launcher, exportOpts export.Options, opts ...Option) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		storage:        store,
		registry:       registry,
		launch:         launch,
		exportOpts:     exportOpts,
		streamInterval: time.Second,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.healthCache == nil {
		h.healthCache = newHealthCache(filepath.Join(filepath.Dir(storage.DefaultDBPath()), HealthCacheFile), HealthCacheTTL)
	}
	return h
}

// Routes returns the router with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers", h.handleAPIProviders)
		r.Get("/providers/health/{name}", h.handleAPIProviderHealth)

		r.Route("/debates", func(r chi.Router) {
			r.Get("/", h.handleAPIDebates)
			r.Post("/", h.handleAPICreateDebate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleAPIDebate)
				r.Delete("/", h.handleAPIDeleteDebate)
				r.Get("/entries", h.handleAPIEntries)
				r.Get("/stream", h.handleDebateStream)
				r.Get("/replay", h.handleAPIReplay)
				r.Get("/export/{format}", h.handleExportDebate)
			})
		})
	})

	return r
}

// Close cancels running debates and waits for them to record their final entry.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.json(w, map[string]string{"status": "ok"})
}

// API handlers (JSON)

func (h *Handler) handleAPIProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.registry.List()
	result := make([]map[string]interface{}, 0, len(providers))

	for _, p := range providers {
		entry := map[string]interface{}{
			"name":      p.Name(),
			"available": p.Available(),
		}
		if d, ok := p.(interface{ DefaultModel() string }); ok {
			entry["default_model"] = d.DefaultModel()
		}
		if m, ok := p.(interface{ Models() []string }); ok {
			entry["models"] = m.Models()
		}
		result = append(result, entry)
	}

	h.json(w, result)
}

func (h *Handler) handleAPIProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, err := h.registry.Get(name)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	model := r.URL.Query().Get("model")
	if r.URL.Query().Get("refresh") != "" {
		h.healthCache.Forget(name)
	}

	status, cached := h.healthCache.Fresh(name, model)
	if !cached {
		status = provider.Check(r.Context(), p, model)
		if status.Model == "" {
			status.Model = model
		}
		h.healthCache.Store(name, model, status)
	}

	h.json(w, map[string]interface{}{
		"name":          name,
		"available":     status.Available,
		"model":         status.Model,
		"response_time": status.ResponseTime.Seconds(),
		"error":         status.Error,
		"checked_at":    status.CheckedAt,
		"cached":        cached,
	})
}

func (h *Handler) handleAPIDebates(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit <= 0 {
		limit = 20
	}

	debates, err := h.storage.ListDebates(limit, offset)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if debates == nil {
		debates = []*core.DebateSummary{}
	}

	h.json(w, debates)
}

func (h *Handler) handleAPIDebate(w http.ResponseWriter, r *http.Request) {
	debate, entries, ok := h.loadDebate(w, r)
	if !ok {
		return
	}

	h.json(w, map[string]interface{}{
		"debate":  debate,
		"entries": entries,
	})
}

func (h *Handler) handleAPIEntries(w http.ResponseWriter, r *http.Request) {
	_, entries, ok := h.loadDebate(w, r)
	if !ok {
		return
	}
	h.json(w, entries)
}

func (h *Handler) handleAPIReplay(w http.ResponseWriter, r *http.Request) {
	_, entries, ok := h.loadDebate(w, r)
	if !ok {
		return
	}

	result, err := engine.Replay(derefEntries(entries), nil)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.json(w, result)
}

// CreateRequest starts an unattended debate.
type CreateRequest struct {
	Question string `json:"question"`
	// Participants are specs of the form [id=]provider[/model].
	Participants []string `json:"participants,omitempty"`
	MaxRounds    int      `json:"max_rounds,omitempty"`
}

func (h *Handler) handleAPICreateDebate(w http.ResponseWriter, r *http.Request) {
	if h.launch == nil {
		h.jsonError(w, "starting debates is disabled", http.StatusNotImplemented)
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		h.jsonError(w, "question is required", http.StatusBadRequest)
		return
	}

	var participants []core.Participant
	if len(req.Participants) > 0 {
		parsed, err := core.ParseParticipantSpecs(strings.Join(req.Participants, ","))
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		participants = parsed
	}

	client, opts, err := h.launch(participants)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MaxRounds > 0 {
		opts.MaxRounds = req.MaxRounds
	}

	eng, err := engine.New(client, storage.NewRecorder(h.storage), engine.NoInput{}, opts, engine.Callbacks{})
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := eng.DebateID()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(h.ctx, DebateTimeout)
		defer cancel()
		if _, err := eng.Run(ctx, req.Question); err != nil {
			slog.Warn("Debate ended with error", "debate_id", id, "error", err)
		}
	}()

	w.Header().Set("Location", "/api/debates/"+id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"roster": eng.Roster(),
		"stream": "/api/debates/" + id + "/stream",
	})
}

func (h *Handler) handleAPIDeleteDebate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	debate, err := h.storage.GetDebate(id)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if debate == nil {
		h.jsonError(w, "debate not found", http.StatusNotFound)
		return
	}

	if err := h.storage.DeleteDebate(id); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExportDebate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	debate, entries, ok := h.loadDebate(w, r)
	if !ok {
		return
	}

	exporter, err := export.GetExporter(format, h.exportOpts)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	filename := export.GenerateFilename(debate, exporter.FileExtension())
	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	if err := exporter.Export(debate, entries, w); err != nil {
		slog.Error("Export failed", "debate_id", id, "format", format, "error", err)
		http.Error(w, "Export failed", http.StatusInternalServerError)
	}
}

// Helper methods

func (h *Handler) loadDebate(w http.ResponseWriter, r *http.Request) (*core.Debate, []*core.Entry, bool) {
	id := chi.URLParam(r, "id")
	debate, err := h.storage.GetDebate(id)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	if debate == nil {
		h.jsonError(w, "debate not found", http.StatusNotFound)
		return nil, nil, false
	}

	entries, err := h.storage.GetEntries(id)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	if entries == nil {
		entries = []*core.Entry{}
	}
	return debate, entries, true
}

func derefEntries(entries []*core.Entry) []core.Entry {
	out := make([]core.Entry, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}

func (h *Handler) json(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
