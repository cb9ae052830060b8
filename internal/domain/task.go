package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentRole — роль агента, владеющего task.
type AgentRole string

const (
	// RoleExecutive — выработка общей концепции кампании.
	RoleExecutive AgentRole = "executive"

	// RoleStrategist — контент-стратегия и визуальный бриф.
	RoleStrategist AgentRole = "strategist"

	// RoleCopywriter — тексты и сценарий.
	RoleCopywriter AgentRole = "copywriter"

	// RoleVoice — озвучка (только для video_voice).
	RoleVoice AgentRole = "voice"

	// RoleProducer — рендер финального контента у внешнего провайдера.
	RoleProducer AgentRole = "producer"

	// RoleQA — проверка качества перед публикацией.
	RoleQA AgentRole = "qa"
)

// ErrCodeTimeout — код ошибки task, упавшего по таймауту.
const ErrCodeTimeout = "TIMEOUT"

// Task — единица работы внутри заявки.
//
// Task создаётся taskfactory при переходе INTAKE → DRAFT и выполняется
// асинхронно внешним провайдером. Завершение приходит через callback.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// RequestID — ссылка на родительскую заявку.
	RequestID uuid.UUID `json:"request_id"`

	// Role — роль агента, владеющего task.
	Role AgentRole `json:"role"`

	// Key — машинный ключ, уникальный внутри заявки (например, "draft_copy").
	Key string `json:"key"`

	// Name — человекочитаемое имя task.
	Name string `json:"name"`

	// Sequence — порядковый номер в пайплайне (1, 2, 3, ...).
	Sequence int `json:"sequence"`

	// DependsOn — ключи tasks, которые должны завершиться до диспатча.
	DependsOn []string `json:"depends_on,omitempty"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// RetryCount — количество выполненных повторов.
	// Никогда не превышает MaxRetries.
	RetryCount int `json:"retry_count"`

	// MaxRetries — бюджет повторов. После исчерпания task уходит в dead letters.
	MaxRetries int `json:"max_retries"`

	// TimeoutSec — лимит выполнения в секундах. По истечении timeout monitor
	// переводит task в FAILED с кодом TIMEOUT.
	TimeoutSec int `json:"timeout_sec"`

	// StartedAt — время диспатча провайдеру.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время получения терминального callback.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// OutputURL — ссылка на результат (рендер, аудио).
	OutputURL string `json:"output_url,omitempty"`

	// Output — структурированный результат (тексты, метаданные).
	Output map[string]any `json:"output,omitempty"`

	// ErrorCode — машинный код ошибки (TIMEOUT, PROVIDER_ERROR, ...).
	ErrorCode string `json:"error_code,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// DepsSatisfied проверяет, завершены ли все prerequisite tasks.
// done — множество ключей tasks со статусом COMPLETED или SKIPPED.
func (t *Task) DepsSatisfied(done map[string]bool) bool {
	for _, key := range t.DependsOn {
		if !done[key] {
			return false
		}
	}
	return true
}

// MarkInProgress переводит task в IN_PROGRESS.
func (t *Task) MarkInProgress() {
	now := time.Now()
	t.Status = TaskStatusInProgress
	t.StartedAt = &now
}

// MarkCompleted переводит task в COMPLETED с результатами.
func (t *Task) MarkCompleted(outputURL string, output map[string]any) {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.FinishedAt = &now
	t.OutputURL = outputURL
	t.Output = output
	t.ErrorCode = ""
	t.Error = ""
}

// MarkFailed переводит task в FAILED с кодом и текстом ошибки.
func (t *Task) MarkFailed(code, errMsg string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.FinishedAt = &now
	t.ErrorCode = code
	t.Error = errMsg
}

// MarkSkipped переводит task в SKIPPED (отмена заявки).
func (t *Task) MarkSkipped() {
	now := time.Now()
	t.Status = TaskStatusSkipped
	t.FinishedAt = &now
}

// ResetForRetry подготавливает task к повторной попытке:
// статус PENDING, увеличенный счётчик, очищенные ошибки и таймстемпы.
func (t *Task) ResetForRetry() {
	t.Status = TaskStatusPending
	t.RetryCount++
	t.StartedAt = nil
	t.FinishedAt = nil
	t.ErrorCode = ""
	t.Error = ""
}

// ResetForRework возвращает task в PENDING без расхода бюджета повторов.
// Используется при откате стадии (QA отклонил результат).
func (t *Task) ResetForRework() {
	t.Status = TaskStatusPending
	t.StartedAt = nil
	t.FinishedAt = nil
	t.OutputURL = ""
	t.Output = nil
	t.ErrorCode = ""
	t.Error = ""
}

// ResetForRequeue возвращает dead-lettered task в работу со сброшенным
// счётчиком повторов. Только для явной операции requeue.
func (t *Task) ResetForRequeue() {
	t.ResetForRework()
	t.RetryCount = 0
}

// RetriesExhausted возвращает true, если бюджет повторов исчерпан.
func (t *Task) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// Expired возвращает true, если task выполняется дольше своего таймаута.
func (t *Task) Expired(now time.Time) bool {
	if t.Status != TaskStatusInProgress || t.StartedAt == nil || t.TimeoutSec <= 0 {
		return false
	}
	return now.Sub(*t.StartedAt) > time.Duration(t.TimeoutSec)*time.Second
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}
