// Package api exposes HTTP handlers for the enrollment service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/activities", h.listActivities)
	mux.HandleFunc("POST /v1/activities", h.createActivity)
	mux.HandleFunc("GET /v1/activities/{id}", h.getActivity)
	mux.HandleFunc("PATCH /v1/activities/{id}", h.updateActivity)
	mux.HandleFunc("DELETE /v1/activities/{id}", h.deleteActivity)
	mux.HandleFunc("POST /v1/activities/{id}/complete", h.completeActivity)
	mux.HandleFunc("POST /v1/activities/{id}/cancel", h.cancelActivity)
	mux.HandleFunc("POST /v1/activities/{id}/enrollments", h.enroll)
	mux.HandleFunc("DELETE /v1/activities/{id}/enrollments/{userID}", h.unenroll)
	mux.HandleFunc("PUT /v1/activities/{id}/enrollments/{userID}/attendance", h.markAttendance)
	mux.HandleFunc("GET /v1/activities/{id}/attendance-queue", h.attendanceQueue)
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ActivityFilter{
		Status:        domain.ActivityStatus(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
		TrainerID:     strings.TrimSpace(query.Get("trainer_id")),
		ParticipantID: strings.TrimSpace(query.Get("participant_id")),
	}

	fields := map[string]string{}
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			fields["limit"] = "must be a non-negative integer"
		}
		filter.Limit = parsed
	}
	if from, ok := parseTimeParam(query.Get("from"), "from", fields); ok {
		filter.From = from
	}
	if to, ok := parseTimeParam(query.Get("to"), "to", fields); ok {
		filter.To = to
	}
	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		fields["cursor"] = "invalid cursor"
	}
	filter.Cursor = cursor
	if len(fields) > 0 {
		writeProblem(w, &domain.ValidationError{FieldErrors: fields})
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), filter)
	if err != nil {
		writeProblem(w, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	var req CreateActivityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	recurrence, err := parseWeekdays(req.RecurrenceWeekdays)
	if err != nil {
		writeProblem(w, err)
		return
	}

	created, err := h.service.CreateActivity(r.Context(), domain.CreateActivityInput{
		Name:            req.Name,
		Description:     req.Description,
		Location:        req.Location,
		TrainerID:       req.TrainerID,
		StartAt:         req.StartAt,
		DurationMinutes: req.DurationMinutes,
		MaxParticipants: req.MaxParticipants,
		Recurrence:      recurrence,
	})
	if err != nil {
		writeProblem(w, err)
		return
	}

	items := make([]ActivityView, 0, len(created))
	for _, activity := range created {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusCreated, CreateActivityResponse{Items: items})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetActivityDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailView(detail))
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request) {
	var req UpdateActivityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	input := domain.UpdateActivityInput{
		Name:            req.Name,
		Description:     req.Description,
		Location:        req.Location,
		TrainerID:       req.TrainerID,
		StartAt:         req.StartAt,
		DurationMinutes: req.DurationMinutes,
		MaxParticipants: req.MaxParticipants,
	}
	if req.RecurrenceWeekdays != nil {
		recurrence, err := parseWeekdays(*req.RecurrenceWeekdays)
		if err != nil {
			writeProblem(w, err)
			return
		}
		input.Recurrence = recurrence
		input.ClearRecurrence = recurrence == nil
	}

	updated, err := h.service.UpdateActivity(r.Context(), r.PathValue("id"), input)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(updated))
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteActivity(r.Context(), r.PathValue("id")); err != nil {
		writeProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) completeActivity(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CompleteActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	resp := CompleteActivityResponse{Activity: toActivityView(result.Activity)}
	if result.Successor != nil {
		successor := toActivityView(*result.Successor)
		resp.Successor = &successor
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancelActivity(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.service.CancelActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(cancelled))
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	enrollment, err := h.service.Enroll(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollmentView(enrollment))
}

func (h *Handler) unenroll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unenroll(r.Context(), r.PathValue("id"), r.PathValue("userID")); err != nil {
		writeProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAttendance(w http.ResponseWriter, r *http.Request) {
	var req MarkAttendanceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	enrollment, err := h.service.MarkAttendance(r.Context(), r.PathValue("id"), r.PathValue("userID"), domain.AttendanceStatus(req.Status))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentView(enrollment))
}

func (h *Handler) attendanceQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.service.GetPendingAttendanceQueue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	items := make([]EnrollmentView, 0, len(queue))
	for _, enrollment := range queue {
		items = append(items, toEnrollmentView(enrollment))
	}
	writeJSON(w, http.StatusOK, AttendanceQueueResponse{Items: items})
}

// decodeBody writes a validation problem and returns false when the body is not a single
// well-formed JSON object of the expected shape.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	return decodeJSON(w, r, target, true)
}

// decodeOptionalBody accepts an empty body, chunked or not, leaving target untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, target any) bool {
	return decodeJSON(w, r, target, false)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any, required bool) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return true
		}
		detail := "unable to parse body"
		if errors.Is(err, io.EOF) {
			detail = "request body is required"
		}
		writeProblem(w, &domain.ValidationError{FieldErrors: map[string]string{"body": detail}})
		return false
	}
	return true
}

func parseTimeParam(raw, field string, fields map[string]string) (*time.Time, bool) {
	if raw == "" {
		return nil, false
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		fields[field] = "must be an RFC 3339 timestamp"
		return nil, false
	}
	parsed = parsed.UTC()
	return &parsed, true
}
