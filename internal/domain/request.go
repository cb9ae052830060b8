package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestType — тип контента, определяет форму графа tasks.
type RequestType string

const (
	// RequestTypeImage — статичное изображение (4 tasks).
	RequestTypeImage RequestType = "image"

	// RequestTypeVideo — видео без озвучки (5 tasks).
	RequestTypeVideo RequestType = "video"

	// RequestTypeVideoVoice — видео с озвучкой (6 tasks).
	RequestTypeVideoVoice RequestType = "video_voice"
)

// Request — заявка на генерацию контента.
//
// Request создаётся через API (или CLI) и движется по статусам
// пайплайна, пока не достигнет терминального состояния.
// Все изменения статуса проходят через statemachine и пишутся
// в БД условным UPDATE (optimistic concurrency).
type Request struct {
	// ID — уникальный идентификатор заявки.
	ID uuid.UUID `json:"id"`

	// Type — тип контента. Определяет blueprint tasks в taskfactory.
	Type RequestType `json:"type"`

	// Status — текущий статус пайплайна.
	Status RequestStatus `json:"status"`

	// OrgID — организация-владелец заявки.
	OrgID string `json:"org_id"`

	// CreatedBy — идентификатор актора, создавшего заявку.
	CreatedBy string `json:"created_by"`

	// Brief — входные данные кампании (бриф, тон, платформа и т.д.).
	// Передаются адаптерам провайдеров как есть.
	Brief map[string]any `json:"brief,omitempty"`

	// CreatedAt — время создания заявки.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения статуса.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFinished возвращает true, если заявка в терминальном статусе.
func (r *Request) IsFinished() bool {
	return r.Status.IsTerminal()
}
