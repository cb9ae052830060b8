package statemachine

import (
	"fmt"

	"github.com/shaiso/Conductor/internal/domain"
)

// transitions — таблица допустимых переходов.
// PUBLISHED и CANCELLED терминальны: исходящих рёбер нет.
var transitions = map[domain.RequestStatus][]domain.RequestStatus{
	domain.StatusIntake:     {domain.StatusDraft, domain.StatusCancelled},
	domain.StatusDraft:      {domain.StatusProduction, domain.StatusCancelled},
	domain.StatusProduction: {domain.StatusQA, domain.StatusDraft, domain.StatusCancelled},
	domain.StatusQA:         {domain.StatusPublished, domain.StatusProduction, domain.StatusCancelled},
	domain.StatusPublished:  {},
	domain.StatusCancelled:  {},
}

// next — следующий статус пайплайна для auto-advance.
var next = map[domain.RequestStatus]domain.RequestStatus{
	domain.StatusIntake:     domain.StatusDraft,
	domain.StatusDraft:      domain.StatusProduction,
	domain.StatusProduction: domain.StatusQA,
	domain.StatusQA:         domain.StatusPublished,
}

// requiredRoles — роли, чьи tasks должны завершиться (COMPLETED или SKIPPED)
// до выхода из статуса. Гейтит только роль, реально присутствующая среди
// tasks заявки: у image-заявки нет voice, и её отсутствие не блокирует.
var requiredRoles = map[domain.RequestStatus][]domain.AgentRole{
	domain.StatusDraft:      {domain.RoleStrategist, domain.RoleCopywriter},
	domain.StatusProduction: {domain.RoleProducer, domain.RoleVoice},
	domain.StatusQA:         {domain.RoleQA},
}

// CanTransition проверяет, есть ли переход from → to в таблице.
func CanTransition(from, to domain.RequestStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Next возвращает следующий статус пайплайна для auto-advance.
// ok == false для терминальных статусов.
func Next(from domain.RequestStatus) (domain.RequestStatus, bool) {
	to, ok := next[from]
	return to, ok
}

// Result — результат валидации перехода.
type Result struct {
	// Allowed — переход разрешён.
	Allowed bool

	// Reason — причина отказа (пусто, если Allowed).
	Reason string

	// BlockedBy — ключи tasks, блокирующих переход.
	BlockedBy []string
}

// ValidateTransition проверяет переход from → to с учётом tasks заявки.
//
// Переход INTAKE → DRAFT привилегирован: tasks в этот момент только
// создаются, гейтинг по ним не выполняется. Остальные переходы требуют
// завершения tasks всех обязательных ролей текущего статуса.
func ValidateTransition(from, to domain.RequestStatus, tasks []domain.Task) Result {
	if !CanTransition(from, to) {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("transition %s -> %s is not allowed", from, to),
		}
	}

	// Шаг создания tasks: гейтинг пропускается.
	if from == domain.StatusIntake && to == domain.StatusDraft {
		return Result{Allowed: true}
	}

	// Отмена и rollback не требуют завершения стадии.
	if to == domain.StatusCancelled || isRollback(from, to) {
		return Result{Allowed: true}
	}

	// Заявка без tasks вперёд не продвигается: стадию никто не выполнял.
	if len(tasks) == 0 {
		return Result{
			Allowed: false,
			Reason:  "request has no tasks",
		}
	}

	blocked := BlockingTasks(from, tasks)
	if len(blocked) > 0 {
		return Result{
			Allowed:   false,
			Reason:    fmt.Sprintf("required tasks for %s are not done", from),
			BlockedBy: blocked,
		}
	}

	return Result{Allowed: true}
}

// BlockingTasks возвращает ключи tasks обязательных ролей статуса,
// ещё не достигших COMPLETED/SKIPPED.
func BlockingTasks(status domain.RequestStatus, tasks []domain.Task) []string {
	roles := requiredRoles[status]
	if len(roles) == 0 {
		return nil
	}

	required := make(map[domain.AgentRole]bool, len(roles))
	for _, role := range roles {
		required[role] = true
	}

	var blocked []string
	for i := range tasks {
		task := &tasks[i]
		if required[task.Role] && !task.Status.Done() {
			blocked = append(blocked, task.Key)
		}
	}
	return blocked
}

// Advance — решение об автоматическом продвижении.
type Advance struct {
	// CanAdvance — стадия завершена, переход возможен.
	CanAdvance bool

	// Next — статус, в который следует перейти.
	Next domain.RequestStatus

	// Reason — почему продвижение невозможно (пусто, если CanAdvance).
	Reason string
}

// CanAdvanceToNext решает, можно ли автоматически продвинуть заявку.
//
// INTAKE → DRAFT привилегирован: достаточно существования tasks.
// Остальные переходы проходят через ValidateTransition.
func CanAdvanceToNext(current domain.RequestStatus, tasks []domain.Task) Advance {
	to, ok := Next(current)
	if !ok {
		return Advance{Reason: fmt.Sprintf("status %s is terminal", current)}
	}

	if current == domain.StatusIntake {
		if len(tasks) == 0 {
			return Advance{Next: to, Reason: "no tasks created yet"}
		}
		return Advance{CanAdvance: true, Next: to}
	}

	res := ValidateTransition(current, to, tasks)
	if !res.Allowed {
		return Advance{Next: to, Reason: res.Reason}
	}
	return Advance{CanAdvance: true, Next: to}
}

// Transition валидирует переход и возвращает *InvalidTransitionError
// при отказе. Для прямых (неоркестрируемых) вызовов.
func Transition(from, to domain.RequestStatus, tasks []domain.Task) error {
	res := ValidateTransition(from, to, tasks)
	if !res.Allowed {
		return &InvalidTransitionError{
			From:      from,
			To:        to,
			Reason:    res.Reason,
			BlockedBy: res.BlockedBy,
		}
	}
	return nil
}

// isRollback — переход назад по пайплайну (production→draft, qa→production).
func isRollback(from, to domain.RequestStatus) bool {
	switch {
	case from == domain.StatusProduction && to == domain.StatusDraft:
		return true
	case from == domain.StatusQA && to == domain.StatusProduction:
		return true
	default:
		return false
	}
}
