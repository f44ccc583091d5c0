package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/assistant-relay/backend/internal/db"
	"github.com/assistant-relay/backend/internal/model"
)

// idTable is a catalog table keyed by an engine-issued id.
type idTable struct {
	db       *sql.DB
	driver   string
	name     string
	idColumn string
	notFound error
}

type idRow struct {
	id        string
	createdAt time.Time
}

func (t *idTable) query(q string) string {
	return db.Rebind(t.driver, q)
}

func (t *idTable) insert(ctx context.Context, id string, createdAt time.Time) error {
	if id == "" {
		return model.ErrIDRequired
	}

	q := t.query(fmt.Sprintf(
		`INSERT INTO %s (%s, created_at) VALUES (?, ?) ON CONFLICT (%s) DO NOTHING`,
		t.name, t.idColumn, t.idColumn))

	result, err := t.db.ExecContext(ctx, q, id, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.name, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", t.idColumn, id, model.ErrAlreadyExists)
	}

	return nil
}

func (t *idTable) get(ctx context.Context, id string) (idRow, error) {
	q := t.query(fmt.Sprintf(
		`SELECT %s, created_at FROM %s WHERE %s = ?`,
		t.idColumn, t.name, t.idColumn))

	var row idRow
	err := t.db.QueryRowContext(ctx, q, id).Scan(&row.id, &row.createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return idRow{}, t.notFound
	}
	if err != nil {
		return idRow{}, fmt.Errorf("failed to get %s: %w", t.idColumn, err)
	}
	return row, nil
}

func (t *idTable) list(ctx context.Context, page model.Page) ([]idRow, error) {
	page = page.Normalize()
	q := t.query(fmt.Sprintf(
		`SELECT %s, created_at FROM %s ORDER BY created_at, %s LIMIT ? OFFSET ?`,
		t.idColumn, t.name, t.idColumn))

	rows, err := t.db.QueryContext(ctx, q, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.name, err)
	}
	defer rows.Close()

	out := make([]idRow, 0, page.Limit)
	for rows.Next() {
		var row idRow
		if err := rows.Scan(&row.id, &row.createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.name, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", t.name, err)
	}

	return out, nil
}

func (t *idTable) exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	q := t.query(fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = ? LIMIT 1`, t.name, t.idColumn))

	var one int
	err := t.db.QueryRowContext(ctx, q, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", t.idColumn, err)
	}
	return true, nil
}

// ThreadRepository provides data access for catalog threads.
type ThreadRepository struct {
	table idTable
}

// NewThreadRepository creates a ThreadRepository for a database opened with driver.
func NewThreadRepository(database *sql.DB, driver string) *ThreadRepository {
	return &ThreadRepository{table: idTable{
		db:       database,
		driver:   driver,
		name:     "openai_threads",
		idColumn: "openai_thread_id",
		notFound: model.ErrThreadNotFound,
	}}
}

// Create stores a thread id issued by the engine.
func (r *ThreadRepository) Create(ctx context.Context, id string) (*model.Thread, error) {
	thread := &model.Thread{ID: id, CreatedAt: time.Now().UTC()}
	if err := r.table.insert(ctx, thread.ID, thread.CreatedAt); err != nil {
		return nil, err
	}
	return thread, nil
}

// GetByID retrieves a thread by id.
func (r *ThreadRepository) GetByID(ctx context.Context, id string) (*model.Thread, error) {
	row, err := r.table.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.Thread{ID: row.id, CreatedAt: row.createdAt}, nil
}

// List returns one page of threads, oldest first.
func (r *ThreadRepository) List(ctx context.Context, page model.Page) ([]*model.Thread, error) {
	rows, err := r.table.list(ctx, page)
	if err != nil {
		return nil, err
	}
	threads := make([]*model.Thread, len(rows))
	for i, row := range rows {
		threads[i] = &model.Thread{ID: row.id, CreatedAt: row.createdAt}
	}
	return threads, nil
}

// Exists checks if a thread is in the catalog.
func (r *ThreadRepository) Exists(ctx context.Context, id string) (bool, error) {
	return r.table.exists(ctx, id)
}

// AssistantRepository provides data access for catalog assistants.
type AssistantRepository struct {
	table idTable
}

// NewAssistantRepository creates an AssistantRepository for a database opened with driver.
func NewAssistantRepository(database *sql.DB, driver string) *AssistantRepository {
	return &AssistantRepository{table: idTable{
		db:       database,
		driver:   driver,
		name:     "openai_assistants",
		idColumn: "openai_assistant_id",
		notFound: model.ErrAssistantNotFound,
	}}
}

// Create stores an assistant id issued by the engine.
func (r *AssistantRepository) Create(ctx context.Context, id string) (*model.Assistant, error) {
	assistant := &model.Assistant{ID: id, CreatedAt: time.Now().UTC()}
	if err := r.table.insert(ctx, assistant.ID, assistant.CreatedAt); err != nil {
		return nil, err
	}
	return assistant, nil
}

// GetByID retrieves an assistant by id.
func (r *AssistantRepository) GetByID(ctx context.Context, id string) (*model.Assistant, error) {
	row, err := r.table.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.Assistant{ID: row.id, CreatedAt: row.createdAt}, nil
}

// List returns one page of assistants, oldest first.
func (r *AssistantRepository) List(ctx context.Context, page model.Page) ([]*model.Assistant, error) {
	rows, err := r.table.list(ctx, page)
	if err != nil {
		return nil, err
	}
	assistants := make([]*model.Assistant, len(rows))
	for i, row := range rows {
		assistants[i] = &model.Assistant{ID: row.id, CreatedAt: row.createdAt}
	}
	return assistants, nil
}

// Exists checks if an assistant is in the catalog.
func (r *AssistantRepository) Exists(ctx context.Context, id string) (bool, error) {
	return r.table.exists(ctx, id)
}

// Catalog answers the existence checks made while a connection is opening.
type Catalog struct {
	Threads    *ThreadRepository
	Assistants *AssistantRepository
}

// NewCatalog creates a Catalog over both repositories.
func NewCatalog(threads *ThreadRepository, assistants *AssistantRepository) *Catalog {
	return &Catalog{Threads: threads, Assistants: assistants}
}

// ThreadExists reports whether id is a known thread.
func (c *Catalog) ThreadExists(ctx context.Context, id string) (bool, error) {
	return c.Threads.Exists(ctx, id)
}

// AssistantExists reports whether id is a known assistant.
func (c *Catalog) AssistantExists(ctx context.Context, id string) (bool, error) {
	return c.Assistants.Exists(ctx, id)
}
