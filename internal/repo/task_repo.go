package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conductor/internal/domain"
)

// TaskRepo — репозиторий tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Create создаёт task. Возвращает false без ошибки при конфликте
// уникальности (request_id, key): параллельный вызов уже вставил task
// с этим ключом.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) (bool, error) {
	outputJSON, err := json.Marshal(task.Output)
	if err != nil {
		return false, fmt.Errorf("marshal output: %w", err)
	}

	query := `
		INSERT INTO tasks (id, request_id, role, key, name, sequence, depends_on,
		                   status, retry_count, max_retries, timeout_sec,
		                   started_at, finished_at, output_url, output,
		                   error_code, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (request_id, key) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		task.RequestID,
		task.Role,
		task.Key,
		task.Name,
		task.Sequence,
		task.DependsOn,
		task.Status,
		task.RetryCount,
		task.MaxRetries,
		task.TimeoutSec,
		task.StartedAt,
		task.FinishedAt,
		nullString(task.OutputURL),
		outputJSON,
		nullString(task.ErrorCode),
		nullString(task.Error),
		task.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert task: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `
		SELECT id, request_id, role, key, name, sequence, depends_on,
		       status, retry_count, max_retries, timeout_sec,
		       started_at, finished_at, output_url, output,
		       error_code, error, created_at
		FROM tasks
		WHERE id = $1
	`
	return r.scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListByRequest возвращает tasks заявки в порядке пайплайна.
func (r *TaskRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Task, error) {
	query := `
		SELECT id, request_id, role, key, name, sequence, depends_on,
		       status, retry_count, max_retries, timeout_sec,
		       started_at, finished_at, output_url, output,
		       error_code, error, created_at
		FROM tasks
		WHERE request_id = $1
		ORDER BY sequence ASC
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return r.collectTasks(rows)
}

// Update выполняет условное обновление изменяемых полей task: запись
// меняется только если текущий статус равен expect. Возвращает false
// без ошибки, если условие не выполнилось.
func (r *TaskRepo) Update(ctx context.Context, task *domain.Task, expect domain.TaskStatus) (bool, error) {
	outputJSON, err := json.Marshal(task.Output)
	if err != nil {
		return false, fmt.Errorf("marshal output: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = $3, retry_count = $4, started_at = $5, finished_at = $6,
		    output_url = $7, output = $8, error_code = $9, error = $10
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		expect,
		task.Status,
		task.RetryCount,
		task.StartedAt,
		task.FinishedAt,
		nullString(task.OutputURL),
		outputJSON,
		nullString(task.ErrorCode),
		nullString(task.Error),
	)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListExpired возвращает tasks, выполняющиеся дольше своего таймаута.
// Используется timeout monitor.
func (r *TaskRepo) ListExpired(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `
		SELECT id, request_id, role, key, name, sequence, depends_on,
		       status, retry_count, max_retries, timeout_sec,
		       started_at, finished_at, output_url, output,
		       error_code, error, created_at
		FROM tasks
		WHERE status = 'IN_PROGRESS'
		  AND timeout_sec > 0
		  AND started_at IS NOT NULL
		  AND started_at + make_interval(secs => timeout_sec) < now()
		ORDER BY started_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired tasks: %w", err)
	}
	defer rows.Close()

	return r.collectTasks(rows)
}

// --- Helpers ---

// scanTask сканирует одну строку в Task.
func (r *TaskRepo) scanTask(row pgx.Row) (*domain.Task, error) {
	task, err := scanTaskRow(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// collectTasks сканирует все строки rows в tasks.
func (r *TaskRepo) collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// scanTaskRow сканирует поля task через переданный scan.
func scanTaskRow(scan func(dest ...any) error) (*domain.Task, error) {
	var task domain.Task
	var outputJSON []byte
	var outputURL *string
	var errorCode *string
	var taskError *string

	err := scan(
		&task.ID,
		&task.RequestID,
		&task.Role,
		&task.Key,
		&task.Name,
		&task.Sequence,
		&task.DependsOn,
		&task.Status,
		&task.RetryCount,
		&task.MaxRetries,
		&task.TimeoutSec,
		&task.StartedAt,
		&task.FinishedAt,
		&outputURL,
		&outputJSON,
		&errorCode,
		&taskError,
		&task.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &task.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}

	if outputURL != nil {
		task.OutputURL = *outputURL
	}
	if errorCode != nil {
		task.ErrorCode = *errorCode
	}
	if taskError != nil {
		task.Error = *taskError
	}

	return &task, nil
}
