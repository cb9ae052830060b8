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

// DeadLetterRepo — репозиторий dead letters.
type DeadLetterRepo struct {
	pool *pgxpool.Pool
}

// NewDeadLetterRepo создаёт новый DeadLetterRepo.
func NewDeadLetterRepo(pool *pgxpool.Pool) *DeadLetterRepo {
	return &DeadLetterRepo{pool: pool}
}

// Insert добавляет dead letter.
func (r *DeadLetterRepo) Insert(ctx context.Context, dl *domain.DeadLetter) error {
	historyJSON, err := json.Marshal(dl.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	query := `
		INSERT INTO dead_letters (id, task_id, request_id, role, key, reason,
		                          attempts, history, requeued, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		dl.ID,
		dl.TaskID,
		dl.RequestID,
		dl.Role,
		dl.Key,
		dl.Reason,
		dl.Attempts,
		historyJSON,
		dl.Requeued,
		dl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// GetByTask возвращает последний dead letter task.
func (r *DeadLetterRepo) GetByTask(ctx context.Context, taskID uuid.UUID) (*domain.DeadLetter, error) {
	query := `
		SELECT id, task_id, request_id, role, key, reason,
		       attempts, history, requeued, created_at
		FROM dead_letters
		WHERE task_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanDeadLetter(r.pool.QueryRow(ctx, query, taskID))
}

// ListOpen возвращает dead letters, ещё не возвращённые в работу,
// старые первыми.
func (r *DeadLetterRepo) ListOpen(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	query := `
		SELECT id, task_id, request_id, role, key, reason,
		       attempts, history, requeued, created_at
		FROM dead_letters
		WHERE requeued = false
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []domain.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetterRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		letters = append(letters, *dl)
	}
	return letters, rows.Err()
}

// MarkRequeued помечает открытые dead letters task как возвращённые
// в работу.
func (r *DeadLetterRepo) MarkRequeued(ctx context.Context, taskID uuid.UUID) error {
	query := `
		UPDATE dead_letters
		SET requeued = true
		WHERE task_id = $1 AND requeued = false
	`
	result, err := r.pool.Exec(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("mark dead letter requeued: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

// scanDeadLetter сканирует одну строку в DeadLetter.
func (r *DeadLetterRepo) scanDeadLetter(row pgx.Row) (*domain.DeadLetter, error) {
	dl, err := scanDeadLetterRow(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return dl, err
}

// scanDeadLetterRow сканирует поля dead letter через переданный scan.
func scanDeadLetterRow(scan func(dest ...any) error) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	var historyJSON []byte

	err := scan(
		&dl.ID,
		&dl.TaskID,
		&dl.RequestID,
		&dl.Role,
		&dl.Key,
		&dl.Reason,
		&dl.Attempts,
		&historyJSON,
		&dl.Requeued,
		&dl.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}

	if historyJSON != nil {
		if err := json.Unmarshal(historyJSON, &dl.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}

	return &dl, nil
}
