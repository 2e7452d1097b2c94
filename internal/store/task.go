package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/taskbox/taskbox/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/taskbox/taskbox/internal/store")

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT CHECK(status IN ('open','in_progress','done')) NOT NULL DEFAULT 'open',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// Store provides durable storage for tasks backed by SQLite.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at path. Foreign key enforcement is
// turned on at the connection level even though no foreign keys exist yet.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; a single pooled connection avoids busy
	// errors and keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the tasks table if it does not exist. Safe to run on every
// startup.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply tasks schema: %w", err)
	}
	return nil
}

// Insert persists one new task row.
func (s *Store) Insert(ctx context.Context, t model.Task) error {
	ctx, span := tracer.Start(ctx, "Store.Insert",
		trace.WithAttributes(attribute.String("task.id", t.ID)),
	)
	defer span.End()

	const q = `
		INSERT INTO tasks (id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, q, t.ID, t.Title, t.Description, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isConstraintViolation(err) {
			return model.ErrInvalidData
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by its ID.
func (s *Store) GetByID(ctx context.Context, id string) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "Store.GetByID",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	const q = `SELECT id, title, description, status, created_at, updated_at FROM tasks WHERE id = ?`

	var t model.Task
	if err := s.db.GetContext(ctx, &t, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, model.ErrTaskNotFound
		}
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// DeleteByID removes exactly one task row.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Store.DeleteByID",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

// UpdateByID overwrites title, description, status and updated_at for the
// row identified by t.ID. created_at is never touched.
func (s *Store) UpdateByID(ctx context.Context, t model.Task) error {
	ctx, span := tracer.Start(ctx, "Store.UpdateByID",
		trace.WithAttributes(attribute.String("task.id", t.ID)),
	)
	defer span.End()

	const q = `
		UPDATE tasks
		SET title = ?, description = ?, status = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, q, t.Title, t.Description, t.Status, t.UpdatedAt, t.ID)
	if err != nil {
		if isConstraintViolation(err) {
			return model.ErrInvalidData
		}
		return fmt.Errorf("update task: %w", err)
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

// ListQuery describes a filtered, sorted, paginated task query. Field names
// must already be validated against the allowed sets; Query resolves them
// through fixed lookup tables and never interpolates caller text into SQL.
type ListQuery struct {
	Status    *model.Status
	DateField string
	Since     *string
	Until     *string
	Sort      string
	Direction string
	Limit     int
	Offset    int
}

// Closed clause mappings. User input selects among these keys; the SQL
// fragments themselves are fixed.
var (
	dateColumns = map[string]string{
		"created_at": "created_at",
		"updated_at": "updated_at",
	}
	sortColumns = map[string]string{
		"created_at": "created_at",
		"updated_at": "updated_at",
		"status":     statusOrderExpr(),
	}
	directionKeywords = map[string]string{
		"asc":  "ASC",
		"desc": "DESC",
	}
)

// statusOrderExpr renders the lifecycle rank mapping as a CASE expression so
// status sorts by domain progression rather than lexically.
func statusOrderExpr() string {
	var sb strings.Builder
	sb.WriteString("CASE status")
	for _, r := range model.StatusRanks() {
		fmt.Fprintf(&sb, " WHEN '%s' THEN %d", r.Status, r.Rank)
	}
	sb.WriteString(" END")
	return sb.String()
}

// Query returns the ordered sequence of tasks matching q. Filters combine
// with AND; date bounds compare only the YYYY-MM-DD prefix of the selected
// column, both inclusive.
func (s *Store) Query(ctx context.Context, q ListQuery) ([]model.Task, error) {
	ctx, span := tracer.Start(ctx, "Store.Query")
	defer span.End()

	dateCol, ok := dateColumns[q.DateField]
	if !ok {
		return nil, fmt.Errorf("unmapped date field %q", q.DateField)
	}
	orderExpr, ok := sortColumns[q.Sort]
	if !ok {
		return nil, fmt.Errorf("unmapped sort field %q", q.Sort)
	}
	dir, ok := directionKeywords[q.Direction]
	if !ok {
		return nil, fmt.Errorf("unmapped direction %q", q.Direction)
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT id, title, description, status, created_at, updated_at FROM tasks WHERE 1=1`)

	if q.Status != nil {
		sb.WriteString(" AND status = ?")
		args = append(args, *q.Status)
	}
	if q.Since != nil {
		fmt.Fprintf(&sb, " AND substr(%s, 1, 10) >= ?", dateCol)
		args = append(args, *q.Since)
	}
	if q.Until != nil {
		fmt.Fprintf(&sb, " AND substr(%s, 1, 10) <= ?", dateCol)
		args = append(args, *q.Until)
	}

	fmt.Fprintf(&sb, " ORDER BY %s %s LIMIT ? OFFSET ?", orderExpr, dir)
	args = append(args, q.Limit, q.Offset)

	out := make([]model.Task, 0)
	if err := s.db.SelectContext(ctx, &out, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	span.SetAttributes(attribute.Int("task.count", len(out)))
	return out, nil
}

// Count returns the current number of tasks, for the tasks gauge.
func (s *Store) Count() int64 {
	var n int64
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM tasks`); err != nil {
		return 0
	}
	return n
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
