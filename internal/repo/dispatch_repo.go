package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conductor/internal/domain"
)

// DispatchRepo — репозиторий записей об отправках провайдерам.
//
// Уникальный индекс (task_id, external_job_id, status) — основа
// идемпотентности callbacks: повторная вставка того же терминального
// исхода превращается в no-op.
type DispatchRepo struct {
	pool *pgxpool.Pool
}

// NewDispatchRepo создаёт новый DispatchRepo.
func NewDispatchRepo(pool *pgxpool.Pool) *DispatchRepo {
	return &DispatchRepo{pool: pool}
}

// Insert добавляет запись. Возвращает false без ошибки при конфликте
// уникальности (task_id, external_job_id, status).
func (r *DispatchRepo) Insert(ctx context.Context, rec *domain.DispatchRecord) (bool, error) {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	responseJSON, err := json.Marshal(rec.Response)
	if err != nil {
		return false, fmt.Errorf("marshal response: %w", err)
	}

	query := `
		INSERT INTO dispatches (id, task_id, external_job_id, provider, status,
		                        payload, response, cost_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id, external_job_id, status) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.TaskID,
		rec.ExternalJobID,
		rec.Provider,
		rec.Status,
		payloadJSON,
		responseJSON,
		rec.CostCents,
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert dispatch: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListByTask возвращает записи task в порядке создания.
func (r *DispatchRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.DispatchRecord, error) {
	query := `
		SELECT id, task_id, external_job_id, provider, status,
		       payload, response, cost_cents, created_at
		FROM dispatches
		WHERE task_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var recs []domain.DispatchRecord
	for rows.Next() {
		var rec domain.DispatchRecord
		var payloadJSON []byte
		var responseJSON []byte

		err := rows.Scan(
			&rec.ID,
			&rec.TaskID,
			&rec.ExternalJobID,
			&rec.Provider,
			&rec.Status,
			&payloadJSON,
			&responseJSON,
			&rec.CostCents,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}

		if payloadJSON != nil {
			if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		if responseJSON != nil {
			if err := json.Unmarshal(responseJSON, &rec.Response); err != nil {
				return nil, fmt.Errorf("unmarshal response: %w", err)
			}
		}

		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// TotalCostCents возвращает суммарную стоимость внешних заданий заявки.
func (r *DispatchRepo) TotalCostCents(ctx context.Context, requestID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(d.cost_cents), 0)
		FROM dispatches d
		JOIN tasks t ON t.id = d.task_id
		WHERE t.request_id = $1
	`
	var total int64
	if err := r.pool.QueryRow(ctx, query, requestID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum dispatch cost: %w", err)
	}
	return total, nil
}
