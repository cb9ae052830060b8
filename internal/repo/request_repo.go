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

// RequestRepo — репозиторий заявок.
type RequestRepo struct {
	pool *pgxpool.Pool
}

// NewRequestRepo создаёт новый RequestRepo.
func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

// Create создаёт новую заявку.
func (r *RequestRepo) Create(ctx context.Context, req *domain.Request) error {
	briefJSON, err := json.Marshal(req.Brief)
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}

	query := `
		INSERT INTO requests (id, type, status, org_id, created_by, brief, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		req.ID,
		req.Type,
		req.Status,
		req.OrgID,
		req.CreatedBy,
		briefJSON,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetByID возвращает заявку по ID.
func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	query := `
		SELECT id, type, status, org_id, created_by, brief, created_at, updated_at
		FROM requests
		WHERE id = $1
	`
	return r.scanRequest(r.pool.QueryRow(ctx, query, id))
}

// UpdateStatus выполняет условный переход статуса: запись меняется только
// если текущий статус равен from. Возвращает false без ошибки, если
// условие не выполнилось (проигранная гонка или исчезнувшая запись).
func (r *RequestRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.RequestStatus) (bool, error) {
	query := `
		UPDATE requests
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update request status: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// List возвращает список заявок с фильтрацией.
func (r *RequestRepo) List(ctx context.Context, filter RequestFilter) ([]domain.Request, error) {
	query := `
		SELECT id, type, status, org_id, created_by, brief, created_at, updated_at
		FROM requests
		WHERE ($1::text IS NULL OR org_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.OrgID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		req, err := r.scanRequestFromRows(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ListByStatus возвращает заявки в заданном статусе, старые первыми.
// Используется polling fallback оркестратора.
func (r *RequestRepo) ListByStatus(ctx context.Context, status domain.RequestStatus, limit int) ([]domain.Request, error) {
	query := `
		SELECT id, type, status, org_id, created_by, brief, created_at, updated_at
		FROM requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests by status: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		req, err := r.scanRequestFromRows(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// --- Helpers ---

// RequestFilter — параметры фильтрации заявок.
type RequestFilter struct {
	OrgID  string
	Status domain.RequestStatus
	Limit  int
	Offset int
}

// scanRequest сканирует одну строку в Request.
func (r *RequestRepo) scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	var briefJSON []byte

	err := row.Scan(
		&req.ID,
		&req.Type,
		&req.Status,
		&req.OrgID,
		&req.CreatedBy,
		&briefJSON,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	if briefJSON != nil {
		if err := json.Unmarshal(briefJSON, &req.Brief); err != nil {
			return nil, fmt.Errorf("unmarshal brief: %w", err)
		}
	}

	return &req, nil
}

// scanRequestFromRows сканирует строку из rows в Request.
func (r *RequestRepo) scanRequestFromRows(rows pgx.Rows) (*domain.Request, error) {
	var req domain.Request
	var briefJSON []byte

	err := rows.Scan(
		&req.ID,
		&req.Type,
		&req.Status,
		&req.OrgID,
		&req.CreatedBy,
		&briefJSON,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	if briefJSON != nil {
		if err := json.Unmarshal(briefJSON, &req.Brief); err != nil {
			return nil, fmt.Errorf("unmarshal brief: %w", err)
		}
	}

	return &req, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
