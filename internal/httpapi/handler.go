package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"qms/dispatch-service/internal/dispatch"
	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/stats"
	"qms/dispatch-service/internal/store"
)

// Dispatcher is the engine surface the HTTP layer drives.
type Dispatcher interface {
	CreateTicket(ctx context.Context, serviceCode string) (models.Ticket, error)
	CallTicket(ctx context.Context, ticketID, counterID string) (models.Ticket, error)
	ServeTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	SkipTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	RecallTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	TransferTicket(ctx context.Context, ticketID, counterID string) (models.Ticket, error)
	ListRecentTickets(ctx context.Context, limit int) ([]models.Ticket, error)
	ListTodayTickets(ctx context.Context) ([]models.Ticket, error)
	ListCounters(ctx context.Context) ([]models.Counter, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	SetCounterActive(ctx context.Context, counterID string, active bool) (models.Counter, error)
	ResetTickets(ctx context.Context) error
	VerifyCounters(ctx context.Context, repair bool) ([]dispatch.CounterMismatch, error)
	Today() models.Day
}

type Handler struct {
	engine Dispatcher
	logger *slog.Logger
}

type createTicketRequest struct {
	ServiceCode string `json:"service_code"`
}

type ticketActionRequest struct {
	CounterID string `json:"counter_id"`
}

type counterStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

type auditResponse struct {
	Repaired   bool                       `json:"repaired"`
	Mismatches []dispatch.CounterMismatch `json:"mismatches"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(engine Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/recent", h.handleRecentTickets)
	mux.HandleFunc("/api/tickets/today", h.handleTodayTickets)
	mux.HandleFunc("/api/tickets/reset", h.handleResetTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/counters", h.handleCounters)
	mux.HandleFunc("/api/counters/audit", h.handleCounterAudit)
	mux.HandleFunc("/api/counters/", h.handleCounterStatus)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/stats/counters", h.handleCounterStats)
	mux.HandleFunc("/api/stats/services/", h.handleServiceStats)
	mux.HandleFunc("/api/stats/today", h.handleTodayStats)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.ServiceCode = strings.TrimSpace(req.ServiceCode)
	if req.ServiceCode == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "service_code is required")
		return
	}

	ticket, err := h.engine.CreateTicket(r.Context(), req.ServiceCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleRecentTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	tickets, err := h.engine.ListRecentTickets(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tickets))
}

func (h *Handler) handleTodayTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tickets, err := h.engine.ListTodayTickets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tickets))
}

func (h *Handler) handleResetTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.engine.ResetTickets(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ticketID := parts[0]

	var req ticketActionRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	req.CounterID = strings.TrimSpace(req.CounterID)

	var (
		ticket models.Ticket
		err    error
	)
	switch parts[2] {
	case dispatch.ActionCall:
		if req.CounterID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "counter_id is required")
			return
		}
		ticket, err = h.engine.CallTicket(r.Context(), ticketID, req.CounterID)
	case dispatch.ActionServe:
		ticket, err = h.engine.ServeTicket(r.Context(), ticketID)
	case dispatch.ActionSkip:
		ticket, err = h.engine.SkipTicket(r.Context(), ticketID)
	case dispatch.ActionRecall:
		ticket, err = h.engine.RecallTicket(r.Context(), ticketID)
	case dispatch.ActionTransfer:
		if req.CounterID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "counter_id is required")
			return
		}
		ticket, err = h.engine.TransferTicket(r.Context(), ticketID, req.CounterID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counters, err := h.engine.ListCounters(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(counters))
}

func (h *Handler) handleCounterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/counters/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "status" || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req counterStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "is_active is required")
		return
	}

	counter, err := h.engine.SetCounterActive(r.Context(), parts[0], *req.IsActive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter)
}

func (h *Handler) handleCounterAudit(w http.ResponseWriter, r *http.Request) {
	var repair bool
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		repair = true
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	mismatches, err := h.engine.VerifyCounters(r.Context(), repair)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if mismatches == nil {
		mismatches = []dispatch.CounterMismatch{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Repaired: repair, Mismatches: mismatches})
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	services, err := h.engine.ListServices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(services))
}

func (h *Handler) handleCounterStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tickets, err := h.engine.ListTodayTickets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	counters, err := h.engine.ListCounters(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	services, err := h.engine.ListServices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	codes := make(map[string]string, len(services))
	for _, svc := range services {
		codes[svc.ServiceID] = svc.Code
	}
	writeJSON(w, http.StatusOK, stats.ForCounters(counters, codes, tickets, h.engine.Today()))
}

func (h *Handler) handleServiceStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/stats/services/"), "/")
	if code == "" || strings.Contains(code, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	tickets, err := h.engine.ListTodayTickets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	services, err := h.engine.ListServices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.ForService(code, tickets, services, h.engine.Today()))
}

func (h *Handler) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tickets, err := h.engine.ListTodayTickets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Today(tickets, h.engine.Today()))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", store.KindOf(err), "error", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", detail(err, store.ErrValidation, "invalid request")
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, store.ErrServiceUnavailable):
		return http.StatusConflict, "service_unavailable", detail(err, store.ErrServiceUnavailable, "service is not accepting tickets")
	case errors.Is(err, store.ErrCounterUnavailable):
		return http.StatusConflict, "counter_unavailable", detail(err, store.ErrCounterUnavailable, "counter is not active")
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", detail(err, store.ErrInvalidTransition, "ticket state does not allow this action")
	case errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable, "temporarily_unavailable", "temporarily unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// detail strips the kind prefix from a wrapped domain error so the
// caller sees only the human part.
func detail(err, kind error, fallback string) string {
	msg, ok := strings.CutPrefix(err.Error(), kind.Error()+": ")
	if !ok || msg == "" {
		return fallback
	}
	return msg
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

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
