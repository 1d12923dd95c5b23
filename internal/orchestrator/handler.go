package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

const (
	m3uContentType  = "application/x-mpegURL"
	jsonContentType = "application/json"
)

// Syncer runs an on-demand reconciliation cycle.
type Syncer interface {
	Sync(ctx context.Context) (CycleResult, error)
}

// Handler exposes the agent's read-only views and manual sync using go-chi.
type Handler struct {
	svc     *Service
	syncer  Syncer
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewHandler returns a Handler. limiter throttles /sync; nil disables throttling.
func NewHandler(svc *Service, syncer Syncer, limiter *rate.Limiter, log *slog.Logger) *Handler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{svc: svc, syncer: syncer, limiter: limiter, log: log}
}

// Routes registers the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/sync", h.Sync)
	r.Get("/channels", h.Channels)
	r.Get("/playlist.m3u", h.PlaylistM3U)
	r.Get("/playlist.json", h.PlaylistJSON)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Health())
}

// Sync handles GET /sync: it runs one reconciliation cycle through the engine
// loop and reports the resulting state.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	res, err := h.syncer.Sync(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, ErrEngineStopped):
			h.log.Info("manual sync rejected during shutdown")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.log.Info("manual sync abandoned", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		default:
			h.log.Error("manual sync failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	h.log.Info("manual sync complete",
		slog.String("cycle_id", res.ID),
		slog.Bool("fetch_ok", res.FetchErr == nil))
	h.writeJSON(w, http.StatusOK, h.svc.SyncReport(res))
}

// Channels handles GET /channels.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.AppItems(requestHost(r)))
}

// PlaylistJSON handles GET /playlist.json.
func (h *Handler) PlaylistJSON(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.PlaylistDocument(requestHost(r)))
}

// PlaylistM3U handles GET /playlist.m3u.
func (h *Handler) PlaylistM3U(w http.ResponseWriter, r *http.Request) {
	body := h.svc.M3UPlaylist(requestHost(r))
	w.Header().Set("Content-Type", m3uContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

// requestHost returns the hostname the client used, without port.
func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.Trim(host, "[]")
}
