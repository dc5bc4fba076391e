package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/poyrazK/cardgate/internal/adapters/export"
	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	AdminToken string
	// ValidateRateLimit caps /validate requests per client IP per RateWindow.
	// Zero disables the limit.
	ValidateRateLimit int
	RateWindow        time.Duration
	Location          *time.Location
}

// APIHandler serves the validation and administrative HTTP API.
type APIHandler struct {
	svc      ports.CardService
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
}

func NewAPIHandler(svc ports.CardService, opts Options, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &APIHandler{
		svc:      svc,
		opts:     opts,
		validate: v,
		logger:   logger.With("component", "api"),
	}
}

// RegisterRoutes registers the API routes with the provided ServeMux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	// Public Routes
	var validate http.Handler = http.HandlerFunc(h.Validate)
	if h.opts.ValidateRateLimit > 0 {
		validate = httprate.LimitByIP(h.opts.ValidateRateLimit, h.opts.RateWindow)(validate)
	}
	mux.Handle("POST /validate", validate)
	mux.HandleFunc("GET /status/{code}", h.Status)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /metrics", h.Metrics)

	// Admin Routes
	admin := AdminAuth(h.opts.AdminToken)
	mux.Handle("POST /admin/cards", admin(http.HandlerFunc(h.GenerateCards)))
	mux.Handle("GET /admin/cards", admin(http.HandlerFunc(h.ListCards)))
	mux.Handle("PATCH /admin/cards/{id}", admin(http.HandlerFunc(h.UpdateCard)))
	mux.Handle("DELETE /admin/cards/{id}", admin(http.HandlerFunc(h.DeleteCard)))
	mux.Handle("GET /admin/stats", admin(http.HandlerFunc(h.Stats)))
	mux.Handle("POST /admin/cleanup", admin(http.HandlerFunc(h.Cleanup)))
	mux.Handle("GET /admin/export", admin(http.HandlerFunc(h.Export)))
}

// Metrics handles Prometheus metrics scraping requests.
func (h *APIHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type validateRequest struct {
	Code        string `json:"code" validate:"required,max=128"`
	MachineCode string `json:"machine_code" validate:"required,max=128"`
}

type validateResponse struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	ExpireAt       string  `json:"expire_at"`
	RemainingHours float64 `json:"remaining_hours"`
}

// Validate activates or re-validates a card for a machine.
func (h *APIHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	req.MachineCode = strings.TrimSpace(req.MachineCode)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	outcome, err := h.svc.Validate(r.Context(), req.Code, req.MachineCode)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	switch outcome.Kind {
	case domain.OutcomeActivated, domain.OutcomeValid:
		writeJSON(w, http.StatusOK, validateResponse{
			Status:         "success",
			Message:        "authorized",
			ExpireAt:       h.formatTime(outcome.ExpireAt),
			RemainingHours: domain.RoundHours(outcome.Remaining),
		})
	case domain.OutcomeNotFound:
		writeError(w, http.StatusNotFound, "not found")
	case domain.OutcomeMachineMismatch:
		writeError(w, http.StatusForbidden, "machine code mismatch")
	case domain.OutcomeExpired:
		writeError(w, http.StatusForbidden, "card expired")
	default:
		h.logger.Error("unknown validation outcome", "kind", string(outcome.Kind))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type statusView struct {
	FullCode       string   `json:"full_code"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"created_at"`
	UsedAt         *string  `json:"used_at"`
	ExpireAt       *string  `json:"expire_at"`
	MachineCode    *string  `json:"machine_code"`
	RemainingHours *float64 `json:"remaining_hours,omitempty"`
}

// Status reports a card's current state after applying lazy expiry.
func (h *APIHandler) Status(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.PathValue("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	card, err := h.svc.Status(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	view := statusView{
		FullCode:    card.FullCode,
		Status:      string(card.Status),
		CreatedAt:   h.formatTime(card.CreatedAt),
		UsedAt:      h.formatTimePtr(card.UsedAt),
		ExpireAt:    h.formatTimePtr(card.ExpireAt),
		MachineCode: card.MachineCode,
	}
	if card.Status == domain.StatusActive {
		hours := domain.RoundHours(card.Remaining(h.svc.Now()))
		view.RemainingHours = &hours
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": view})
}

// HealthCheck is the liveness probe. It reports dependency state but always
// answers 200 while the process can serve.
func (h *APIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, details := h.checkDependencies(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"service":   "cardgate",
		"timestamp": h.formatTime(h.svc.Now()),
		"details":   details,
	})
}

// Ready is the readiness probe: 503 while any dependency is failing.
func (h *APIHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status, details := h.checkDependencies(r)
	code := http.StatusOK
	if status != "UP" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "details": details})
}

func (h *APIHandler) checkDependencies(r *http.Request) (string, map[string]string) {
	status := "UP"
	details := make(map[string]string)
	for name, checkErr := range h.svc.HealthCheck(r.Context()) {
		if checkErr != nil {
			status = "DEGRADED"
			details[name] = checkErr.Error()
		} else {
			details[name] = "OK"
		}
	}
	return status, details
}

type generateRequest struct {
	Prefix string `json:"prefix" validate:"required,max=16"`
	Count  int    `json:"count" validate:"required,min=1,max=10000"`
	Length int    `json:"length" validate:"omitempty,min=6,max=64"`
}

// GenerateCards creates a batch of UNUSED cards.
func (h *APIHandler) GenerateCards(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Prefix = strings.TrimSpace(req.Prefix)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	cards, err := h.svc.GenerateCards(r.Context(), req.Prefix, req.Count, req.Length)
	if err != nil && len(cards) == 0 {
		h.writeServiceError(w, err)
		return
	}

	codes := make([]string, len(cards))
	for i, c := range cards {
		codes[i] = c.FullCode
	}
	resp := map[string]any{
		"status":    "success",
		"generated": len(cards),
		"requested": req.Count,
		"codes":     codes,
	}
	if err != nil {
		// partial batch: the cards above exist, the rest could not be made
		resp["status"] = "partial"
		resp["message"] = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

type cardView struct {
	ID          string  `json:"id"`
	Prefix      string  `json:"prefix"`
	Code        string  `json:"code"`
	FullCode    string  `json:"full_code"`
	Status      string  `json:"status"`
	MachineCode *string `json:"machine_code"`
	UsedAt      *string `json:"used_at"`
	ExpireAt    *string `json:"expire_at"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func (h *APIHandler) toView(c *domain.Card) cardView {
	return cardView{
		ID:          c.ID,
		Prefix:      c.Prefix,
		Code:        c.Code,
		FullCode:    c.FullCode,
		Status:      string(c.Status),
		MachineCode: c.MachineCode,
		UsedAt:      h.formatTimePtr(c.UsedAt),
		ExpireAt:    h.formatTimePtr(c.ExpireAt),
		CreatedAt:   h.formatTime(c.CreatedAt),
		UpdatedAt:   h.formatTime(c.UpdatedAt),
	}
}

// ListCards pages through cards filtered by status, prefix and search term.
func (h *APIHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter domain.CardFilter
	if s := q.Get("status"); s != "" {
		st, err := domain.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = st
	}
	filter.Prefix = strings.TrimSpace(q.Get("prefix"))
	filter.Search = strings.TrimSpace(q.Get("search"))

	page := queryInt(q.Get("page"), 1)
	perPage := queryInt(q.Get("per_page"), 20)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 500 {
		perPage = 20
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	cards, total, err := h.svc.ListCards(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	views := make([]cardView, len(cards))
	for i := range cards {
		views[i] = h.toView(&cards[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"cards":    views,
			"total":    total,
			"page":     page,
			"per_page": perPage,
			"pages":    (total + perPage - 1) / perPage,
		},
	})
}

type updateRequest struct {
	Prefix *string `json:"prefix" validate:"omitempty,max=16"`
	Status *string `json:"status" validate:"omitempty,oneof=UNUSED ACTIVE EXPIRED unused active expired"`
}

// UpdateCard applies an administrative prefix or status override.
func (h *APIHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	var update ports.CardUpdate
	update.Prefix = req.Prefix
	if req.Status != nil {
		st, err := domain.ParseStatus(*req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		update.Status = &st
	}

	card, err := h.svc.UpdateCard(r.Context(), id, update)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": h.toView(card)})
}

func (h *APIHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCard(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": stats})
}

// Cleanup runs one expiry sweep on demand.
func (h *APIHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ExpireStale(r.Context())
	if err != nil && n == 0 {
		h.writeServiceError(w, err)
		return
	}
	if err != nil {
		h.logger.Warn("cleanup finished with errors", "expired", n, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "expired": n})
}

// Export downloads the unused cards, optionally for one prefix.
func (h *APIHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exporter, err := export.ForFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prefix := strings.TrimSpace(q.Get("prefix"))

	cards, err := h.svc.ExportUnused(r.Context(), prefix)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if len(cards) == 0 {
		writeError(w, http.StatusNotFound, "no unused cards to export")
		return
	}

	meta := ports.ExportMeta{Prefix: prefix, ExportedAt: h.svc.Now(), Location: h.opts.Location}
	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(exporter, meta)))
	if err := exporter.Export(w, cards, meta); err != nil {
		h.logger.Error("failed to write export", "format", exporter.Extension(), "error", err)
		return
	}
	h.logger.Info("exported unused cards", "prefix", prefix, "count", len(cards), "format", exporter.Extension())
}

// writeServiceError maps domain errors onto HTTP status codes.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	status, msg := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, msg)
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrCardNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrInvalidPrefix),
		errors.Is(err, domain.ErrInvalidLength),
		errors.Is(err, domain.ErrInvalidCount),
		errors.Is(err, domain.ErrInvalidMachineCode),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrCodeConflict),
		errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrGenerationExhausted):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	}
	// ErrStoreConflict, ErrIntegrity and anything unexpected
	return http.StatusInternalServerError, "internal error"
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *APIHandler) formatTime(t time.Time) string {
	return t.In(h.opts.Location).Format(time.RFC3339)
}

func (h *APIHandler) formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := h.formatTime(*t)
	return &s
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max", "min":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
