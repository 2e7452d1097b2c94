package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/taskbox/taskbox/internal/model"
	"github.com/taskbox/taskbox/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/taskbox/taskbox/internal/service")

// TaskStore is the storage collaborator the service drives. *store.Store
// implements it; tests may substitute a fake.
type TaskStore interface {
	Insert(ctx context.Context, t model.Task) error
	GetByID(ctx context.Context, id string) (model.Task, error)
	DeleteByID(ctx context.Context, id string) error
	UpdateByID(ctx context.Context, t model.Task) error
	Query(ctx context.Context, q store.ListQuery) ([]model.Task, error)
}

// Service validates and normalizes task operations on top of a TaskStore.
// It holds no state of its own; every call reads through to the store.
type Service struct {
	store TaskStore
}

// New creates a task service.
func New(st TaskStore) *Service {
	return &Service{store: st}
}

// ListParams are the raw list-query parameters before validation.
type ListParams struct {
	Status    *string
	DateField string
	Since     *string
	Until     *string
	Sort      string
	Direction string
	Limit     int
	Offset    int
}

var (
	allowedDateFields = map[string]struct{}{"created_at": {}, "updated_at": {}}
	allowedSortFields = map[string]struct{}{"created_at": {}, "updated_at": {}, "status": {}}
	allowedDirections = map[string]struct{}{"asc": {}, "desc": {}}
)

// List returns tasks matching p. All parameter violations are collected
// before failing as one ValidationError; no query runs on invalid input.
func (s *Service) List(ctx context.Context, p ListParams) ([]model.Task, error) {
	ctx, span := tracer.Start(ctx, "Service.List")
	defer span.End()

	var violations []string
	var status *model.Status

	if p.Status != nil {
		st, ok := model.ParseStatus(*p.Status)
		if !ok {
			violations = append(violations, fmt.Sprintf("Invalid status: %s", *p.Status))
		} else {
			status = &st
		}
	}
	if _, ok := allowedDateFields[p.DateField]; !ok {
		violations = append(violations, fmt.Sprintf("Invalid date field: %s", p.DateField))
	}
	if _, ok := allowedSortFields[p.Sort]; !ok {
		violations = append(violations, fmt.Sprintf("Invalid sort field: %s", p.Sort))
	}
	if _, ok := allowedDirections[p.Direction]; !ok {
		violations = append(violations, fmt.Sprintf("Invalid direction: %s", p.Direction))
	}
	if p.Limit < 1 || p.Limit > 100 {
		violations = append(violations, "limit must be between 1 and 100")
	}
	if p.Offset < 0 {
		violations = append(violations, "offset must be >= 0")
	}
	if len(violations) > 0 {
		return nil, &model.ValidationError{Violations: violations}
	}

	tasks, err := s.store.Query(ctx, store.ListQuery{
		Status:    status,
		DateField: p.DateField,
		Since:     p.Since,
		Until:     p.Until,
		Sort:      p.Sort,
		Direction: p.Direction,
		Limit:     p.Limit,
		Offset:    p.Offset,
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// Create persists a new task with a fresh id and identical created_at and
// updated_at timestamps.
func (s *Service) Create(ctx context.Context, in model.TaskInput) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "Service.Create",
		trace.WithAttributes(attribute.String("task.title", in.Title)),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		return model.Task{}, err
	}

	status := model.StatusOpen
	if in.Status != nil {
		status = *in.Status
	}

	now := model.NowUTC()
	t := model.Task{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return model.Task{}, err
	}

	span.SetAttributes(attribute.String("task.id", t.ID))
	return t, nil
}

// Get returns the task with the given id.
func (s *Service) Get(ctx context.Context, id string) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "Service.Get",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	return s.store.GetByID(ctx, id)
}

// Replace fully overwrites title, description and status of an existing
// task and stamps a new updated_at. created_at is untouched.
func (s *Service) Replace(ctx context.Context, id string, in model.TaskInput) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "Service.Replace",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		return model.Task{}, err
	}

	status := model.StatusOpen
	if in.Status != nil {
		status = *in.Status
	}

	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Task{}, err
	}

	cur.Title = in.Title
	cur.Description = in.Description
	cur.Status = status
	cur.UpdatedAt = model.NowUTC()

	if err := s.store.UpdateByID(ctx, cur); err != nil {
		return model.Task{}, err
	}
	return cur, nil
}

// Patch applies a partial update. The merge starts from the currently
// persisted row, so patches with disjoint field sets do not clobber each
// other; the merged candidate passes through the same validator as full
// input.
func (s *Service) Patch(ctx context.Context, id string, p model.TaskPatch) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "Service.Patch",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Task{}, err
	}

	if p.Status != nil {
		if _, ok := model.ParseStatus(*p.Status); !ok {
			return model.Task{}, model.ErrInvalidStatus
		}
	}

	mergedStatus := cur.Status
	merged := model.TaskInput{
		Title:       cur.Title,
		Description: cur.Description,
		Status:      &mergedStatus,
	}
	if p.Title != nil {
		merged.Title = *p.Title
	}
	if p.HasDescription {
		merged.Description = p.Description
	}
	if p.Status != nil {
		mergedStatus = model.Status(*p.Status)
	}
	if err := merged.Validate(); err != nil {
		return model.Task{}, err
	}

	cur.Title = merged.Title
	cur.Description = merged.Description
	cur.Status = mergedStatus
	cur.UpdatedAt = model.NowUTC()

	if err := s.store.UpdateByID(ctx, cur); err != nil {
		return model.Task{}, err
	}
	return cur, nil
}

// Delete removes the task with the given id.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Service.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	return s.store.DeleteByID(ctx, id)
}
