// Package admin serves the authenticated admin API: login, statistics, the
// dynamic sender allow-list, the delivery journal and the effective
// configuration.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/go-chi/chi/v5"

	"github.com/Kultup/mailbot/internal/api"
	"github.com/Kultup/mailbot/internal/config"
	"github.com/Kultup/mailbot/internal/logger"
	"github.com/Kultup/mailbot/internal/redisstore"
)

const loginAttemptsPerMin = 10

type AdminHandler struct {
	cfg   *config.Config
	store *redisstore.Store
	auth  *Authenticator
	log   logger.Logger
}

func NewAdminHandler(cfg *config.Config, store *redisstore.Store, log logger.Logger) (*AdminHandler, error) {
	auth, err := NewAuthenticator(cfg.AdminPassword, cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	return &AdminHandler{
		cfg:   cfg,
		store: store,
		auth:  auth,
		log:   log.With("component", "admin"),
	}, nil
}

// Routes returns the admin router, meant to be mounted under /api/admin.
func (h *AdminHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/stats", h.GetStats)
		r.Get("/senders", h.GetSenders)
		r.Post("/senders", h.AddSender)
		r.Delete("/senders/{sender}", h.RemoveSender)
		r.Get("/deliveries", h.GetDeliveries)
		r.Delete("/deliveries/{id}", h.DeleteDelivery)
		r.Get("/config", h.GetConfig)
		r.Get("/health", h.GetHealth)
	})
	return r
}

// Middleware to check JWT token
func (h *AdminHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		if _, err := h.auth.Verify(parts[1]); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !api.CheckRateLimit(w, r, h.store, "login", loginAttemptsPerMin) {
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.auth.CheckPassword(req.Password); err != nil {
		h.log.Warn("admin login rejected", "ip", api.ClientIP(r))
		http.Error(w, "Invalid password", http.StatusUnauthorized)
		return
	}

	token, expires, err := h.auth.IssueToken()
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"token":      token,
		"expires_at": expires.UTC(),
	})
}

func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// GetSenders lists the static allow-list from the environment and the
// dynamic one kept in redis.
func (h *AdminHandler) GetSenders(w http.ResponseWriter, r *http.Request) {
	dynamic, err := h.store.GetSenders(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch senders", http.StatusInternalServerError)
		return
	}
	if dynamic == nil {
		dynamic = []string{}
	}
	writeJSON(w, map[string]interface{}{
		"static":  h.cfg.AllowedSenders,
		"dynamic": dynamic,
	})
}

func (h *AdminHandler) AddSender(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender string `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Sender))
	if err != nil {
		http.Error(w, "Invalid sender address", http.StatusBadRequest)
		return
	}

	if err := h.store.AddSender(r.Context(), addr.Address); err != nil {
		http.Error(w, "Failed to add sender", http.StatusInternalServerError)
		return
	}
	h.log.Info("sender added", "sender", addr.Address)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"sender": strings.ToLower(addr.Address),
	})
}

func (h *AdminHandler) RemoveSender(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "sender")

	err := h.store.RemoveSender(r.Context(), sender)
	if errors.Is(err, redisstore.ErrNotFound) {
		http.Error(w, "Sender not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to remove sender", http.StatusInternalServerError)
		return
	}
	h.log.Info("sender removed", "sender", sender)

	writeJSON(w, map[string]string{
		"status": "deleted",
	})
}

func (h *AdminHandler) GetDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, before := api.PageParams(r)

	deliveries, err := h.store.RecentDeliveries(r.Context(), limit, before)
	if err != nil {
		http.Error(w, "Failed to fetch deliveries", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"deliveries": deliveries,
		"limit":      limit,
		"before":     before,
	})
}

func (h *AdminHandler) DeleteDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.store.DeleteDelivery(r.Context(), id)
	if errors.Is(err, redisstore.ErrNotFound) {
		http.Error(w, "Delivery not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to delete delivery", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{
		"status": "deleted",
	})
}

// GetConfig returns the effective configuration with secrets masked.
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, config.Redact(*h.cfg))
}

// GetHealth reports redis reachability and whether the last poll cycle
// reached the mailbox.
func (h *AdminHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	redisStatus := "connected"
	if err := h.store.Ping(ctx); err != nil {
		redisStatus = "unreachable"
	}

	imapStatus := "unknown"
	if last, err := h.store.GetLastCycle(ctx); err == nil && last != nil {
		imapStatus = "unreachable"
		if last.Connected {
			imapStatus = "connected"
		}
	}

	writeJSON(w, map[string]interface{}{
		"redis": redisStatus,
		"imap":  imapStatus,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
