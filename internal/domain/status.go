package domain

// RequestStatus — статус заявки в пайплайне.
//
// Жизненный цикл:
//
//	INTAKE → DRAFT → PRODUCTION → QA → PUBLISHED
//	           ↑________|    ↑_____|
//	        (rollback)     (rollback)
//	(любой нетерминальный) → CANCELLED
type RequestStatus string

const (
	// StatusIntake — заявка создана, tasks ещё не сформированы.
	StatusIntake RequestStatus = "INTAKE"

	// StatusDraft — идёт подготовка концепции и текстов.
	StatusDraft RequestStatus = "DRAFT"

	// StatusProduction — идёт производство контента (рендер, озвучка).
	StatusProduction RequestStatus = "PRODUCTION"

	// StatusQA — контент готов, ожидает проверки.
	StatusQA RequestStatus = "QA"

	// StatusPublished — заявка завершена успешно. Терминальный.
	StatusPublished RequestStatus = "PUBLISHED"

	// StatusCancelled — заявка отменена. Терминальный.
	StatusCancelled RequestStatus = "CANCELLED"
)

// Statuses — все статусы заявки в порядке пайплайна.
// Используется как граница глубины рекурсии в оркестраторе.
var Statuses = []RequestStatus{
	StatusIntake,
	StatusDraft,
	StatusProduction,
	StatusQA,
	StatusPublished,
	StatusCancelled,
}

// IsTerminal возвращает true, если статус финальный (переходы запрещены).
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusPublished, StatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PENDING → IN_PROGRESS → COMPLETED
//	                      ↘ FAILED (retry → обратно в PENDING)
//	PENDING/IN_PROGRESS → SKIPPED (при отмене заявки)
type TaskStatus string

const (
	// TaskStatusPending — task создан, ожидает диспатча.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusInProgress — task отправлен провайдеру, ждём callback.
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"

	// TaskStatusCompleted — task успешно завершён.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — task завершился с ошибкой.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusSkipped — task пропущен (отмена заявки или необязательная роль).
	TaskStatusSkipped TaskStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Done возвращает true, если task больше не блокирует переход стадии.
// FAILED блокирует: упавший обязательный task требует retry или отмены.
func (s TaskStatus) Done() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// DispatchStatus — статус записи об отправке провайдеру.
type DispatchStatus string

const (
	// DispatchStatusSubmitted — задача отправлена, ответа ещё нет.
	DispatchStatusSubmitted DispatchStatus = "SUBMITTED"

	// DispatchStatusCompleted — провайдер отчитался об успехе.
	DispatchStatusCompleted DispatchStatus = "COMPLETED"

	// DispatchStatusFailed — провайдер отчитался об ошибке.
	DispatchStatusFailed DispatchStatus = "FAILED"
)
