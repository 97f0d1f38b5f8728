package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/comigor/tenant-chat/internal/backend"
	"github.com/comigor/tenant-chat/internal/logger"
)

const (
	maxUploadBytes  = 10 << 20
	defaultMsgLimit = 50
)

// Handler serves the tenant chat API on top of a Service.
type Handler struct {
	svc *Service
}

// NewRouter wires the backend routes under /api.
func NewRouter(svc *Service) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Get("/tenant/restaurants", h.handleListTenants)
		api.Route("/tenant/{slug}", func(t chi.Router) {
			t.Post("/session", h.handleCreateSession)
			t.Post("/chat", h.handleChat)
			t.Post("/upload-payment-proof", h.handleUpload)
			t.Get("/session/{sessionID}/messages", h.handleMessages)
		})
		api.Get("/uploads/{id}", h.handleGetUpload)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.L.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (backend.Tenant, bool) {
	t, ok := h.svc.Tenant(chi.URLParam(r, "slug"))
	if !ok {
		respondError(w, http.StatusNotFound, "Restaurant not found")
	}
	return t, ok
}

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Tenants())
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.svc.CreateSession(t))
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req backend.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	resp, err := h.svc.Chat(r.Context(), t, req)
	switch {
	case errors.Is(err, ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		logger.L.Error("chat failed", "tenant", t.Slug, "error", err)
		respondError(w, http.StatusInternalServerError, "Chat processing failed")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.tenant(w, r); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		respondError(w, http.StatusBadRequest, "File must be an image")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "file is empty")
		return
	}

	id := h.svc.StoreUpload(contentType, data)
	respondJSON(w, http.StatusOK, backend.UploadResponse{ImageURL: h.svc.UploadURL(r.Host, id)})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.tenant(w, r); !ok {
		return
	}

	limit := defaultMsgLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, ok := h.svc.Messages(chi.URLParam(r, "sessionID"), limit)
	if !ok {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	contentType, data, ok := h.svc.Upload(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "Upload not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Warn("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, backend.ErrorResponse{Detail: detail})
}
