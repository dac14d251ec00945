package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"subjectfix/internal/admin"
	"subjectfix/internal/dispatch"
	"subjectfix/internal/domain"
	"subjectfix/internal/mailstore"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Dispatcher *dispatch.Dispatcher
	Menus      *dispatch.Registry
	Dial       mailstore.Dialer
	Admin      *admin.AdminHandler
	Ready      Pinger
	Gatherer   prometheus.Gatherer
	Log        *zap.Logger

	// Refresh runs before every menu click, typically to reload subject patterns.
	Refresh func(ctx context.Context) error
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
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

		r.Get("/menus", h.listMenus)
		r.Group(func(r chi.Router) {
			r.Use(h.Admin.AuthMiddleware)
			r.Post("/menus/{id}/clicked", h.menuClicked)
		})

		r.Route("/admin", h.Admin.Routes)
	})

	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready.Ping(ctx); err != nil {
			h.logger().Warn("readiness check failed", zap.Error(err))
			http.Error(w, "Not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) listMenus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Menus.Items())
}

type clickRequest struct {
	Folder string   `json:"folder"`
	UIDs   []uint32 `json:"uids"`
}

func (h *Handler) menuClicked(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Menus.Has(id) {
		http.Error(w, "Unknown menu item", http.StatusNotFound)
		return
	}

	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Folder == "" || len(req.UIDs) == 0 {
		http.Error(w, "folder and uids are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.Refresh != nil {
		if err := h.Refresh(ctx); err != nil {
			h.logger().Warn("refresh failed, keeping previous settings", zap.Error(err))
		}
	}

	st, err := h.Dial(ctx)
	if err != nil {
		h.logger().Error("mail store unavailable", zap.Error(err))
		http.Error(w, "Mail store unavailable", http.StatusBadGateway)
		return
	}
	defer st.Close()

	processed := h.Dispatcher.OnMenuClicked(ctx, st, domain.MenuClick{
		MenuItemID:       id,
		SelectedMessages: &domain.Selection{Folder: req.Folder, UIDs: req.UIDs},
	})

	writeJSON(w, http.StatusOK, map[string]int{
		"processed": processed,
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
