package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// StaticDir is served at /* when set.
	StaticDir string
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
	Node           domain.NodeID
}

type Handler struct {
	Relay    *service.RelayService
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(relay *service.RelayService, opts Options) *Handler {
	h := &Handler{
		Relay: relay,
		opts:  opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.healthz)
	r.Get("/stats", h.stats)

	if h.opts.StaticDir != "" {
		fs := http.FileServer(http.Dir(h.opts.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	log.Warn().Str("origin", origin).Msg("Rejected websocket origin")
	return false
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

type statsResponse struct {
	Node  string `json:"node,omitempty"`
	Users int    `json:"users"`
	service.RelayStats
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Node:       h.opts.Node.String(),
		Users:      h.Relay.Users(r.Context()),
		RelayStats: h.Relay.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode stats")
	}
}
