package admin

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"subjectfix/internal/config"
	"subjectfix/internal/domain"
	"subjectfix/internal/journal"
	"subjectfix/internal/mailstore"
	"subjectfix/internal/redisstore"
	"subjectfix/internal/subject"
)

type AdminHandler struct {
	cfg     *config.Config
	store   *redisstore.Store
	journal *journal.Journal
	dial    mailstore.Dialer
	auth    *AuthService
	log     *zap.Logger
}

func NewAdminHandler(cfg *config.Config, store *redisstore.Store, j *journal.Journal, dial mailstore.Dialer, logger *zap.Logger) (*AdminHandler, error) {
	auth, err := NewAuthService(cfg.AdminPassword, cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdminHandler{
		cfg:     cfg,
		store:   store,
		journal: j,
		dial:    dial,
		auth:    auth,
		log:     logger,
	}, nil
}

// Routes mounts the admin endpoints on r.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/stats", h.GetStats)
		r.Get("/patterns", h.GetPatterns)
		r.Post("/patterns", h.AddPattern)
		r.Delete("/patterns", h.DeletePattern)
		r.Get("/journal", h.GetJournal)
		r.Post("/journal/{id}/restore", h.RestoreJournal)
	})
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

		if _, err := h.auth.ValidateToken(parts[1]); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r, "login", h.cfg.RateLimitLoginPerMin) {
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.auth.ValidatePassword(req.Password); err != nil {
		h.log.Warn("admin login rejected", zap.String("remote", r.RemoteAddr))
		http.Error(w, "Invalid password", http.StatusUnauthorized)
		return
	}

	token, err := h.auth.GenerateToken()
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
	})
}

func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.log.Error("failed to read stats", zap.Error(err))
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	open, err := h.journal.List(r.Context(), 0)
	if err != nil {
		h.log.Error("failed to read journal", zap.Error(err))
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"triggers":       stats,
		"openJournal":    len(open),
		"restoreFailed":  countRestoreFailed(open),
		"watchedFolders": h.cfg.WatchFolders,
	})
}

func (h *AdminHandler) GetPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.store.GetPatterns(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch patterns", http.StatusInternalServerError)
		return
	}
	source := "redis"
	if len(patterns) == 0 {
		patterns = h.cfg.SubjectPatterns
		source = "config"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"source":   source,
	})
}

type patternRequest struct {
	Pattern string `json:"pattern"`
}

func (h *AdminHandler) AddPattern(w http.ResponseWriter, r *http.Request) {
	var req patternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := subject.Compile(req.Pattern); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.AddPattern(r.Context(), req.Pattern); err != nil {
		http.Error(w, "Failed to save pattern", http.StatusInternalServerError)
		return
	}
	h.log.Info("subject pattern added", zap.String("pattern", req.Pattern))
	writeJSON(w, http.StatusCreated, req)
}

// DeletePattern removes the pattern given in the "pattern" query parameter.
func (h *AdminHandler) DeletePattern(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		http.Error(w, "Missing pattern", http.StatusBadRequest)
		return
	}

	removed, err := h.store.RemovePattern(r.Context(), pattern)
	if err != nil {
		http.Error(w, "Failed to delete pattern", http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "Pattern not found", http.StatusNotFound)
		return
	}
	h.log.Info("subject pattern removed", zap.String("pattern", pattern))
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
	})
}

func (h *AdminHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if i, err := strconv.Atoi(l); err == nil && i > 0 && i <= 1000 {
			limit = i
		}
	}

	entries, err := h.journal.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to fetch journal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   limit,
	})
}

func (h *AdminHandler) RestoreJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	st, err := h.dial(ctx)
	if err != nil {
		h.log.Error("mail store unavailable", zap.Error(err))
		http.Error(w, "Mail store unavailable", http.StatusBadGateway)
		return
	}
	defer st.Close()

	imported, err := h.journal.Restore(ctx, st, id)
	switch {
	case errors.Is(err, redisstore.ErrNotFound):
		http.Error(w, "Journal entry not found", http.StatusNotFound)
		return
	case errors.Is(err, journal.ErrNotRestorable):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.log.Error("journal restore failed", zap.String("journal_id", id), zap.Error(err))
		http.Error(w, "Restore failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "restored",
		"imported": imported,
	})
}

func (h *AdminHandler) checkRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if limit <= 0 {
		return true
	}
	ip := r.RemoteAddr
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		ip = xrip
	} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		ip = strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	allowed, err := h.store.RateLimit(r.Context(), ip, action, limit, time.Minute)
	if err != nil {
		h.log.Warn("rate limit check failed", zap.Error(err))
		return true
	}
	if !allowed {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func countRestoreFailed(entries []*domain.JournalEntry) int {
	n := 0
	for _, e := range entries {
		if e.State == domain.SagaRestoreFailed {
			n++
		}
	}
	return n
}
