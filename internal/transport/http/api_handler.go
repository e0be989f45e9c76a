package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"liveclass-service/internal/app"
	"liveclass-service/internal/domain"
)

// APIHandler exposes the assignment use cases as JSON endpoints.
type APIHandler struct {
	service  *app.AssignmentService
	presence Presence
	validate *validator.Validate
	log      zerolog.Logger
}

func NewAPIHandler(service *app.AssignmentService, presence Presence, log zerolog.Logger) *APIHandler {
	return &APIHandler{
		service:  service,
		presence: presence,
		validate: validator.New(),
		log:      log.With().Str("component", "api_handler").Logger(),
	}
}

type submitRequest struct {
	Answers []domain.Answer `json:"answers" validate:"required,min=1,dive"`
}

type gradeRequest struct {
	Grade *float64 `json:"grade" validate:"required,min=0,max=100"`
}

type submitResponse struct {
	Assignment domain.Assignment    `json:"assignment"`
	Result     domain.GradingResult `json:"result"`
}

type cleanupResponse struct {
	Deleted int `json:"deleted"`
}

type presenceResponse struct {
	StudentID string `json:"studentId"`
	Online    bool   `json:"online"`
}

// Register wires the routes onto mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/students/{studentID}/assignments", h.listToday)
	mux.HandleFunc("GET /api/students/{studentID}/presence", h.presenceOf)
	mux.HandleFunc("POST /api/checkins/cleanup", h.cleanup)
	mux.HandleFunc("POST /api/assignments", h.create)
	mux.HandleFunc("POST /api/assignments/{id}/submit", h.submit)
	mux.HandleFunc("POST /api/assignments/{id}/opened", h.mutate(h.service.MarkOpened))
	mux.HandleFunc("POST /api/assignments/{id}/completed", h.mutate(h.service.MarkCompleted))
	mux.HandleFunc("POST /api/assignments/{id}/saved", h.mutate(h.service.MarkSaved))
	mux.HandleFunc("POST /api/assignments/{id}/release", h.mutate(h.service.ReleaseAnswers))
	mux.HandleFunc("POST /api/assignments/{id}/grade", h.grade)
}

func (h *APIHandler) listToday(w http.ResponseWriter, r *http.Request) {
	limit := app.MaxFetchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	rows, err := h.service.ListToday(r.Context(), r.PathValue("studentID"), r.URL.Query().Get("instructorId"), limit)
	if err != nil {
		h.error(w, err)
		return
	}
	h.respond(w, http.StatusOK, rows)
}

func (h *APIHandler) presenceOf(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("studentID")
	online, err := h.presence.IsOnline(r.Context(), studentID)
	if err != nil {
		h.error(w, err)
		return
	}
	h.respond(w, http.StatusOK, presenceResponse{StudentID: studentID, Online: online})
}

func (h *APIHandler) cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.CleanupStaleCheckins(r.Context())
	if err != nil {
		h.error(w, err)
		return
	}
	h.respond(w, http.StatusOK, cleanupResponse{Deleted: n})
}

func (h *APIHandler) create(w http.ResponseWriter, r *http.Request) {
	var in domain.NewAssignment
	if !h.decode(w, r, &in) {
		return
	}
	a, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.error(w, err)
		return
	}
	h.respond(w, http.StatusCreated, a)
}

func (h *APIHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, result, err := h.service.SubmitAnswers(r.Context(), r.PathValue("id"), req.Answers)
	if err != nil {
		h.error(w, err)
		return
	}
	h.respond(w, http.StatusOK, submitResponse{Assignment: a, Result: result})
}

func (h *APIHandler) grade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.service.PostGrade(r.Context(), r.PathValue("id"), *req.Grade)
	if err != nil {
		h.error(w, err)
		return
	}
	h.respond(w, http.StatusOK, a)
}

func (h *APIHandler) mutate(fn func(ctx context.Context, id string) (domain.Assignment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := fn(r.Context(), r.PathValue("id"))
		if err != nil {
			h.error(w, err)
			return
		}
		h.respond(w, http.StatusOK, a)
	}
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// error maps domain errors onto HTTP statuses.
func (h *APIHandler) error(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAssignmentNotFound):
		h.fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidAssignmentType),
		errors.Is(err, domain.ErrNotGradable),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrInvalidContent):
		h.fail(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("Request failed")
		h.fail(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *APIHandler) fail(w http.ResponseWriter, status int, msg string) {
	h.respond(w, status, errorPayload{Message: msg})
}

func (h *APIHandler) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug().Err(err).Msg("Write response failed")
	}
}
