package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/taskbox/taskbox/internal/model"
	"github.com/taskbox/taskbox/internal/service"
	"github.com/taskbox/taskbox/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/taskbox/taskbox/internal/handler")

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	svc     *service.Service
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(svc *service.Service, logger *slog.Logger, metrics *telemetry.Metrics) *TaskHandler {
	return &TaskHandler{
		svc:     svc,
		logger:  logger,
		metrics: metrics,
	}
}

// Routes returns the chi router with task routes.
func (h *TaskHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.GetByID)
	r.Put("/{id}", h.Replace)
	r.Patch("/{id}", h.Patch)
	r.Delete("/{id}", h.Delete)

	return r
}

// List returns tasks matching the query parameters.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.List")
	defer span.End()

	q := r.URL.Query()
	p := service.ListParams{
		DateField: "created_at",
		Sort:      "created_at",
		Direction: "desc",
		Limit:     50,
		Offset:    0,
	}
	if v := q.Get("status"); v != "" {
		p.Status = &v
	}
	if v := q.Get("date_field_filter"); v != "" {
		p.DateField = v
	}
	if v := q.Get("since"); v != "" {
		p.Since = &v
	}
	if v := q.Get("until"); v != "" {
		p.Until = &v
	}
	if v := q.Get("sort"); v != "" {
		p.Sort = v
	}
	if v := q.Get("direction"); v != "" {
		p.Direction = v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			// Out-of-range sentinel, caught by the accumulated validation.
			n = 0
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		p.Offset = n
	}

	tasks, err := h.svc.List(ctx, p)
	if err != nil {
		h.writeError(ctx, w, err)
		h.recordMetrics(ctx, "GET", "/tasks", statusOf(err), start)
		return
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	h.respondJSON(w, http.StatusOK, tasks)
	h.recordMetrics(ctx, "GET", "/tasks", http.StatusOK, start)
}

// Create adds a new task.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Create")
	defer span.End()

	var in model.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondDetail(w, http.StatusBadRequest, "invalid request body")
		h.recordMetrics(ctx, "POST", "/tasks", http.StatusBadRequest, start)
		return
	}

	h.logger.InfoContext(ctx, "creating task", slog.String("title", in.Title))

	task, err := h.svc.Create(ctx, in)
	if err != nil {
		h.writeError(ctx, w, err)
		h.recordMetrics(ctx, "POST", "/tasks", statusOf(err), start)
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	h.logger.InfoContext(ctx, "task created", slog.String("id", task.ID))

	h.respondJSON(w, http.StatusCreated, task)
	h.recordMetrics(ctx, "POST", "/tasks", http.StatusCreated, start)
}

// GetByID returns a task by ID.
func (h *TaskHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.GetByID",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	task, err := h.svc.Get(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		h.recordMetrics(ctx, "GET", "/tasks/{id}", statusOf(err), start)
		return
	}

	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, "GET", "/tasks/{id}", http.StatusOK, start)
}

// Replace fully overwrites an existing task.
func (h *TaskHandler) Replace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Replace",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var in model.TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.respondDetail(w, http.StatusBadRequest, "invalid request body")
		h.recordMetrics(ctx, "PUT", "/tasks/{id}", http.StatusBadRequest, start)
		return
	}

	h.logger.InfoContext(ctx, "replacing task", slog.String("id", id))

	task, err := h.svc.Replace(ctx, id, in)
	if err != nil {
		h.writeError(ctx, w, err)
		h.recordMetrics(ctx, "PUT", "/tasks/{id}", statusOf(err), start)
		return
	}

	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, "PUT", "/tasks/{id}", http.StatusOK, start)
}

// Patch partially updates an existing task.
func (h *TaskHandler) Patch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Patch",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondDetail(w, http.StatusBadRequest, "invalid request body")
		h.recordMetrics(ctx, "PATCH", "/tasks/{id}", http.StatusBadRequest, start)
		return
	}

	p, err := model.ParseTaskPatch(body)
	if err != nil {
		var ufe *model.UnknownFieldError
		if errors.As(err, &ufe) {
			h.logger.WarnContext(ctx, "unknown patch fields", slog.Any("fields", ufe.Fields))
			h.respondDetail(w, http.StatusBadRequest, ufe.Error())
		} else {
			h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
			h.respondDetail(w, http.StatusBadRequest, "invalid request body")
		}
		h.recordMetrics(ctx, "PATCH", "/tasks/{id}", http.StatusBadRequest, start)
		return
	}

	h.logger.InfoContext(ctx, "patching task", slog.String("id", id))

	task, err := h.svc.Patch(ctx, id, p)
	if err != nil {
		h.writeError(ctx, w, err)
		h.recordMetrics(ctx, "PATCH", "/tasks/{id}", statusOf(err), start)
		return
	}

	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, "PATCH", "/tasks/{id}", http.StatusOK, start)
}

// Delete removes a task.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "deleting task", slog.String("id", id))

	if err := h.svc.Delete(ctx, id); err != nil {
		h.writeError(ctx, w, err)
		h.recordMetrics(ctx, "DELETE", "/tasks/{id}", statusOf(err), start)
		return
	}

	h.logger.InfoContext(ctx, "task deleted", slog.String("id", id))

	w.WriteHeader(http.StatusNoContent)
	h.recordMetrics(ctx, "DELETE", "/tasks/{id}", http.StatusNoContent, start)
}

// Health returns a health check response.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError renders a domain error as {"detail": ...} with the status code
// for its kind. Unrecognized errors are treated as storage failures: logged
// server-side, internals withheld from the client.
func (h *TaskHandler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	var ufe *model.UnknownFieldError

	switch {
	case errors.As(err, &ve):
		h.respondJSON(w, http.StatusBadRequest, map[string]any{"detail": ve.Violations})
	case errors.As(err, &ufe):
		h.respondDetail(w, http.StatusBadRequest, ufe.Error())
	case errors.Is(err, model.ErrTaskNotFound):
		h.respondDetail(w, http.StatusNotFound, model.ErrTaskNotFound.Error())
	case errors.Is(err, model.ErrInvalidStatus):
		h.respondDetail(w, http.StatusBadRequest, model.ErrInvalidStatus.Error())
	case errors.Is(err, model.ErrInvalidData):
		h.respondDetail(w, http.StatusBadRequest, model.ErrInvalidData.Error())
	default:
		h.logger.ErrorContext(ctx, "storage failure", slog.Any("error", err))
		h.respondDetail(w, http.StatusInternalServerError, "Database error")
	}
}

// statusOf mirrors writeError's mapping for metric labels.
func statusOf(err error) int {
	var ve *model.ValidationError
	var ufe *model.UnknownFieldError

	switch {
	case errors.As(err, &ve), errors.As(err, &ufe),
		errors.Is(err, model.ErrInvalidStatus), errors.Is(err, model.ErrInvalidData):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrTaskNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *TaskHandler) recordMetrics(ctx context.Context, method, route string, status int, start time.Time) {
	duration := time.Since(start).Seconds()

	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)

	h.metrics.RequestCounter.Add(ctx, 1, attrs)
	h.metrics.RequestDuration.Record(ctx, duration, attrs)
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *TaskHandler) respondDetail(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"detail": message})
}
