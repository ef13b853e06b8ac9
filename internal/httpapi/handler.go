package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"

	"qms/ticket-service/internal/hub"
	"qms/ticket-service/internal/models"
	"qms/ticket-service/internal/store"
	"qms/ticket-service/internal/telemetry"
)

const (
	MaxTitleBytes       = 50
	MaxDescriptionBytes = 500

	healthCheckTimeout = 2 * time.Second
)

type Handler struct {
	store   store.TicketStore
	metrics *telemetry.Metrics
	hub     *hub.Hub
	logger  pslog.Logger
	timeout time.Duration
	health  func(context.Context) error
}

type createTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type createTicketResponse struct {
	ID models.TicketID `json:"id"`
}

type patchTicketRequest struct {
	ID          *models.TicketID `json:"id"`
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Status      *models.Status   `json:"status"`
}

type patchFieldsRequest struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Status      *models.Status `json:"status"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	Metrics        *telemetry.Metrics
	Hub            *hub.Hub
	Logger         pslog.Logger
	RequestTimeout time.Duration
	// HealthCheck, when set, is run by /healthz; an error turns the answer
	// into 503.
	HealthCheck func(context.Context) error
}

func NewHandler(st store.TicketStore, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Handler{
		store:   st,
		metrics: options.Metrics,
		hub:     options.Hub,
		logger:  logger,
		timeout: options.RequestTimeout,
		health:  options.HealthCheck,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/tickets", h.handleCreate)
	mux.HandleFunc("/tickets/patch", h.handlePatch)
	mux.HandleFunc("/tickets/", h.handleTicket)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.Handler())
	}
	if h.hub != nil {
		mux.Handle("/realtime/", RealtimeHandler(h.hub, h.logger))
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.logger.Warn("healthz.check.error", "error", err)
			writeError(w, requestIDFromContext(r.Context()), http.StatusServiceUnavailable, "unhealthy", "journal unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromContext(r.Context())

	var req createTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateText("title", req.Title, MaxTitleBytes); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := validateText("description", req.Description, MaxDescriptionBytes); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx, cancel := h.storeContext(r)
	defer cancel()
	id, err := h.store.Add(ctx, models.TicketDraft{Title: req.Title, Description: req.Description})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createTicketResponse{ID: id})
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromContext(r.Context())

	var req patchTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	h.applyPatch(w, r, models.TicketPatch{
		ID:          *req.ID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
	})
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tickets/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, requestIDFromContext(r.Context()), http.StatusNotFound, "not_found", "route not found")
		return
	}
	id, err := models.ParseTicketID(raw)
	if err != nil {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_request", "ticket id must be a non-negative integer")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getTicket(w, r, id)
	case http.MethodPatch:
		var req patchFieldsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		h.applyPatch(w, r, models.TicketPatch{
			ID:          id,
			Title:       req.Title,
			Description: req.Description,
			Status:      req.Status,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) getTicket(w http.ResponseWriter, r *http.Request, id models.TicketID) {
	ctx, cancel := h.storeContext(r)
	defer cancel()
	ticket, err := h.store.Get(ctx, id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// applyPatch validates the present fields, patches, and answers with the
// ticket as read back afterwards.
func (h *Handler) applyPatch(w http.ResponseWriter, r *http.Request, patch models.TicketPatch) {
	requestID := requestIDFromContext(r.Context())
	if patch.Title != nil {
		if err := validateText("title", *patch.Title, MaxTitleBytes); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	if patch.Description != nil {
		if err := validateText("description", *patch.Description, MaxDescriptionBytes); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	ctx, cancel := h.storeContext(r)
	defer cancel()
	if err := h.store.Patch(ctx, patch); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	ticket, err := h.store.Get(ctx, patch.ID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusServiceUnavailable {
		if errors.Is(err, store.ErrOverloaded) {
			w.Header().Set("Retry-After", "1")
		}
		if h.metrics != nil {
			h.metrics.ObserveRejection(code)
		}
	}
	if status == http.StatusInternalServerError {
		pslog.LoggerFromContext(r.Context()).Error("ticket.store.error", "error", err)
	}
	writeError(w, requestIDFromContext(r.Context()), status, code, msg)
}

func validateText(field, value string, max int) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > max {
		return fmt.Errorf("%s must be at most %d bytes", field, max)
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromContext(r.Context()), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrOverloaded):
		return http.StatusServiceUnavailable, "overloaded", "store is overloaded, retry later"
	case errors.Is(err, store.ErrWorkerGone):
		return http.StatusServiceUnavailable, "store_unavailable", "store is unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout", "store did not answer in time"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
