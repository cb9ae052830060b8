package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conductor/internal/domain"
)

// EventRepo — репозиторий событий аудита. Записи append-only:
// обновлений и удалений нет.
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создаёт новый EventRepo.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Insert добавляет событие.
func (r *EventRepo) Insert(ctx context.Context, event *domain.Event) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO events (id, request_id, task_id, type, description, metadata, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		event.ID,
		event.RequestID,
		event.TaskID,
		event.Type,
		event.Description,
		metadataJSON,
		event.Actor,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListByRequest возвращает события заявки в порядке создания.
func (r *EventRepo) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Event, error) {
	query := `
		SELECT id, request_id, task_id, type, description, metadata, actor, created_at
		FROM events
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListByTask возвращает события одного task в порядке создания.
func (r *EventRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.Event, error) {
	query := `
		SELECT id, request_id, task_id, type, description, metadata, actor, created_at
		FROM events
		WHERE task_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountByType возвращает количество событий заявки по типам.
func (r *EventRepo) CountByType(ctx context.Context, requestID uuid.UUID) (map[domain.EventType]int, error) {
	query := `
		SELECT type, count(*)
		FROM events
		WHERE request_id = $1
		GROUP BY type
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int)
	for rows.Next() {
		var typ domain.EventType
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[typ] = count
	}
	return counts, rows.Err()
}

// collectEvents сканирует все строки rows в events.
func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.RequestID,
			&event.TaskID,
			&event.Type,
			&event.Description,
			&metadataJSON,
			&event.Actor,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}
	return events, rows.Err()
}
