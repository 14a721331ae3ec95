// Package api serves the read-only status API of the relay: health, counters
// and the delivery journal.
package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/logger"
	"github.com/Kultup/mailbot/internal/redisstore"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

type Handler struct {
	cfg   *config.Config
	store *redisstore.Store
	log   logger.Logger
}

func New(cfg *config.Config, store *redisstore.Store, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{cfg: cfg, store: store, log: log.With("component", "api")}
}

// Router builds the HTTP routes. admin, when not nil, is mounted under
// /api/admin.
func (h *Handler) Router(admin http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Get("/readyz", h.readyz)

		r.Get("/stats", h.getStats)
		r.Get("/deliveries", h.getDeliveries)
		r.Get("/deliveries/stream", h.streamDeliveries)
		r.Get("/deliveries/{id}", h.getDelivery)

		if admin != nil {
			r.Mount("/admin", admin)
		}
	})

	return r
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.log.Error("load stats", "error", err)
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (h *Handler) getDeliveries(w http.ResponseWriter, r *http.Request) {
	if !CheckRateLimit(w, r, h.store, "fetch", h.cfg.RateLimitFetchPerMin) {
		return
	}

	limit, before := PageParams(r)
	deliveries, err := h.store.RecentDeliveries(r.Context(), limit, before)
	if err != nil {
		h.log.Error("load deliveries", "error", err)
		http.Error(w, "Failed to fetch deliveries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, deliveries)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to fetch delivery", http.StatusInternalServerError)
		return
	}
	if d == nil {
		http.Error(w, "Delivery not found", http.StatusNotFound)
		return
	}
	writeJSON(w, d)
}

// streamDeliveries pushes every newly recorded delivery as a server-sent
// event until the client goes away.
func (h *Handler) streamDeliveries(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	sub := h.store.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		http.Error(w, "Failed to subscribe", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			d, err := h.store.GetDelivery(ctx, msg.Payload)
			if err != nil || d == nil {
				continue
			}
			data, err := json.Marshal(d)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: delivery\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// PageParams reads the limit and before query parameters.
func PageParams(r *http.Request) (limit int, before int64) {
	limit = defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if i, err := strconv.Atoi(l); err == nil && i > 0 && i <= maxLimit {
			limit = i
		}
	}
	if b := r.URL.Query().Get("before"); b != "" {
		if i, err := strconv.ParseInt(b, 10, 64); err == nil {
			before = i
		}
	}
	return limit, before
}

// ClientIP returns the caller address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		ip = xrip
	} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		ip = strings.TrimSpace(parts[0])
	}
	if strings.Contains(ip, ":") {
		host, _, err := net.SplitHostPort(ip)
		if err == nil {
			ip = host
		}
	}
	return ip
}

// CheckRateLimit answers 429 and returns false once ip exceeds limit
// requests per minute for action. A store error lets the request through.
func CheckRateLimit(w http.ResponseWriter, r *http.Request, store *redisstore.Store, action string, limit int) bool {
	if limit <= 0 {
		return true
	}
	allowed, err := store.RateLimit(r.Context(), ClientIP(r), action, limit, time.Minute)
	if err != nil {
		return true
	}
	if !allowed {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
