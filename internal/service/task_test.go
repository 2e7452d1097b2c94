package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/taskbox/taskbox/internal/model"
	"github.com/taskbox/taskbox/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return New(st)
}

func mustCreate(t *testing.T, svc *Service, in model.TaskInput) model.Task {
	t.Helper()

	task, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("failed to prepare task: %v", err)
	}
	return task
}

func strPtr(s string) *string { return &s }

func statusPtr(s model.Status) *model.Status { return &s }

func TestCreate(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, model.TaskInput{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if task.Status != model.StatusOpen {
		t.Errorf("expected default status open, got %s", task.Status)
	}
	if task.CreatedAt != task.UpdatedAt {
		t.Errorf("expected created_at == updated_at, got %s / %s", task.CreatedAt, task.UpdatedAt)
	}
	if task.ID == "" {
		t.Error("expected id to be assigned")
	}

	second, err := svc.Create(ctx, model.TaskInput{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if second.ID == task.ID {
		t.Error("expected unique ids across repeated calls")
	}
}

func TestCreateRoundTrip(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, model.TaskInput{
		Title:       "Buy milk",
		Description: strPtr("two liters"),
		Status:      statusPtr(model.StatusInProgress),
	})

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != created.ID || got.Title != created.Title || got.Status != created.Status ||
		got.CreatedAt != created.CreatedAt || got.UpdatedAt != created.UpdatedAt {
		t.Errorf("round-trip mismatch: created %+v, got %+v", created, got)
	}
	if got.Description == nil || *got.Description != "two liters" {
		t.Errorf("description mismatch: %v", got.Description)
	}
}

func TestCreateTitleBounds(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	for _, title := range []string{"", strings.Repeat("x", 256)} {
		_, err := svc.Create(ctx, model.TaskInput{Title: title})

		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for %d-char title, got %v", len(title), err)
		}
	}

	// Bounds count characters, so a 255-rune multibyte title passes.
	if _, err := svc.Create(ctx, model.TaskInput{Title: strings.Repeat("牛", 255)}); err != nil {
		t.Fatalf("Create() error for 255-rune title: %v", err)
	}
}

func TestCreateExplicitEmptyStatus(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	_, err := svc.Create(context.Background(), model.TaskInput{Title: "t", Status: statusPtr("")})

	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 1 || ve.Violations[0] != "Invalid status: " {
		t.Errorf("unexpected violations: %v", ve.Violations)
	}
}

func TestListValidationAccumulates(t *testing.T) {
	t.Parallel()

	fake := &fakeStore{}
	svc := New(fake)

	_, err := svc.List(context.Background(), ListParams{
		DateField: "created_at",
		Sort:      "bogus",
		Direction: "desc",
		Limit:     0,
		Offset:    -1,
	})

	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %v", ve.Violations)
	}
	for _, want := range []string{
		"Invalid sort field: bogus",
		"limit must be between 1 and 100",
		"offset must be >= 0",
	} {
		found := false
		for _, v := range ve.Violations {
			if v == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing violation %q in %v", want, ve.Violations)
		}
	}
	if fake.queries != 0 {
		t.Errorf("expected no query on invalid input, got %d", fake.queries)
	}
}

func TestListLimitBounds(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	for _, limit := range []int{0, 101} {
		p := ListParams{DateField: "created_at", Sort: "created_at", Direction: "desc", Limit: limit}
		var ve *model.ValidationError
		if _, err := svc.List(ctx, p); !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for limit=%d, got %v", limit, err)
		}
	}

	p := ListParams{DateField: "created_at", Sort: "created_at", Direction: "desc", Limit: 100}
	if _, err := svc.List(ctx, p); err != nil {
		t.Fatalf("List() error for limit=100: %v", err)
	}
}

func TestListStatusFilter(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, model.TaskInput{Title: "open one"})
	done := mustCreate(t, svc, model.TaskInput{Title: "done one", Status: statusPtr(model.StatusDone)})

	got, err := svc.List(ctx, ListParams{
		Status:    strPtr("done"),
		DateField: "created_at",
		Sort:      "created_at",
		Direction: "desc",
		Limit:     50,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != done.ID {
		t.Fatalf("expected only the done task, got %+v", got)
	}
}

func TestListInvalidStatusValue(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	_, err := svc.List(context.Background(), ListParams{
		Status:    strPtr("finished"),
		DateField: "created_at",
		Sort:      "created_at",
		Direction: "desc",
		Limit:     50,
	})

	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Violations) != 1 || ve.Violations[0] != "Invalid status: finished" {
		t.Errorf("unexpected violations: %v", ve.Violations)
	}
}

func TestReplace(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, model.TaskInput{Title: "before", Description: strPtr("old")})
	time.Sleep(2 * time.Millisecond)

	updated, err := svc.Replace(ctx, created.ID, model.TaskInput{Title: "after", Status: statusPtr(model.StatusDone)})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if updated.Title != "after" || updated.Status != model.StatusDone {
		t.Errorf("replace not applied: %+v", updated)
	}
	if updated.Description != nil {
		t.Errorf("expected description overwritten to null, got %v", updated.Description)
	}
	if updated.CreatedAt != created.CreatedAt {
		t.Errorf("created_at must not change: %s -> %s", created.CreatedAt, updated.CreatedAt)
	}
	if !(updated.UpdatedAt > created.UpdatedAt) {
		t.Errorf("updated_at not advanced: %s -> %s", created.UpdatedAt, updated.UpdatedAt)
	}

	t.Run("not found", func(t *testing.T) {
		_, err := svc.Replace(ctx, "missing", model.TaskInput{Title: "x"})
		if !errors.Is(err, model.ErrTaskNotFound) {
			t.Fatalf("expected ErrTaskNotFound, got %v", err)
		}
	})
}

func TestPatchSingleField(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, model.TaskInput{Title: "Buy milk", Status: statusPtr(model.StatusInProgress)})
	time.Sleep(2 * time.Millisecond)

	updated, err := svc.Patch(ctx, created.ID, model.TaskPatch{
		Description:    strPtr("x"),
		HasDescription: true,
	})
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if updated.Title != "Buy milk" || updated.Status != model.StatusInProgress {
		t.Errorf("unrelated fields changed: %+v", updated)
	}
	if updated.Description == nil || *updated.Description != "x" {
		t.Errorf("description not applied: %v", updated.Description)
	}
	if !(updated.UpdatedAt > created.UpdatedAt) {
		t.Errorf("updated_at not advanced: %s -> %s", created.UpdatedAt, updated.UpdatedAt)
	}
	if updated.CreatedAt != created.CreatedAt {
		t.Errorf("created_at must not change")
	}
}

func TestPatchClearsDescription(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, model.TaskInput{Title: "t", Description: strPtr("old")})

	updated, err := svc.Patch(ctx, created.ID, model.TaskPatch{HasDescription: true})
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if updated.Description != nil {
		t.Errorf("expected description cleared, got %q", *updated.Description)
	}
}

func TestPatchNotFound(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	_, err := svc.Patch(context.Background(), "missing", model.TaskPatch{Title: strPtr("x")})
	if !errors.Is(err, model.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestPatchInvalidStatus(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, model.TaskInput{Title: "t"})

	_, err := svc.Patch(ctx, created.ID, model.TaskPatch{Status: strPtr("finished")})
	if !errors.Is(err, model.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != model.StatusOpen || got.UpdatedAt != created.UpdatedAt {
		t.Errorf("failed patch must not mutate: %+v", got)
	}
}

func TestPatchMergeRevalidates(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, model.TaskInput{Title: "ok"})

	for _, title := range []string{"", strings.Repeat("x", 256)} {
		_, err := svc.Patch(ctx, created.ID, model.TaskPatch{Title: strPtr(title)})

		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError for %d-char title, got %v", len(title), err)
		}
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "ok" {
		t.Errorf("failed patch must not mutate title, got %q", got.Title)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, model.TaskInput{Title: "t"})

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Delete(ctx, created.ID); !errors.Is(err, model.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, model.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound after delete, got %v", err)
	}
}

func TestStorageFailurePassthrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	fake := &fakeStore{err: boom}
	svc := New(fake)
	ctx := context.Background()

	if _, err := svc.Create(ctx, model.TaskInput{Title: "t"}); !errors.Is(err, boom) {
		t.Errorf("Create: expected storage error, got %v", err)
	}
	p := ListParams{DateField: "created_at", Sort: "created_at", Direction: "desc", Limit: 50}
	if _, err := svc.List(ctx, p); !errors.Is(err, boom) {
		t.Errorf("List: expected storage error, got %v", err)
	}
}

// fakeStore is a minimal TaskStore for failure injection and call counting.
type fakeStore struct {
	err     error
	queries int
}

func (f *fakeStore) Insert(context.Context, model.Task) error { return f.err }

func (f *fakeStore) GetByID(context.Context, string) (model.Task, error) {
	return model.Task{}, f.err
}

func (f *fakeStore) DeleteByID(context.Context, string) error { return f.err }

func (f *fakeStore) UpdateByID(context.Context, model.Task) error { return f.err }

func (f *fakeStore) Query(context.Context, store.ListQuery) ([]model.Task, error) {
	f.queries++
	return nil, f.err
}
