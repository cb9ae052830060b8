package orchestrator

import (
	"context"

	"github.com/shaiso/Conductor/internal/domain"
)

// ApprovalDecision — решение политики проверки качества.
type ApprovalDecision int

const (
	// ApprovalPending — решения ещё нет, стадия ждёт.
	ApprovalPending ApprovalDecision = iota

	// ApprovalApproved — контент одобрен, можно публиковать.
	ApprovalApproved

	// ApprovalRejected — контент отклонён, стадия откатывается в production.
	ApprovalRejected
)

// ApprovalPolicy — стратегия принятия решения на стадии QA.
//
// Явная стратегия вместо неявного флага: тесты подставляют свою
// реализацию, а поведение QA видно в конфигурации сервиса.
type ApprovalPolicy interface {
	// Name — имя политики, попадает в актор событий ("system:<name>").
	Name() string

	// Decide возвращает решение для заявки в QA.
	Decide(ctx context.Context, req *domain.Request, tasks []domain.Task) (ApprovalDecision, error)

	// RequiresDispatch — нужно ли отправлять qa task внешнему исполнителю.
	RequiresDispatch() bool
}

// AutoApprove — безусловное одобрение. Политика по умолчанию:
// qa task закрывается автоматически, внешнего ревьюера нет.
type AutoApprove struct{}

// Name реализует ApprovalPolicy.
func (AutoApprove) Name() string { return "auto-approve" }

// Decide реализует ApprovalPolicy.
func (AutoApprove) Decide(context.Context, *domain.Request, []domain.Task) (ApprovalDecision, error) {
	return ApprovalApproved, nil
}

// RequiresDispatch реализует ApprovalPolicy.
func (AutoApprove) RequiresDispatch() bool { return false }

// ManualApproval — решение приходит извне как завершение qa task:
// COMPLETED callback означает одобрение, FAILED — отклонение.
type ManualApproval struct{}

// Name реализует ApprovalPolicy.
func (ManualApproval) Name() string { return "manual" }

// Decide реализует ApprovalPolicy.
func (ManualApproval) Decide(_ context.Context, _ *domain.Request, tasks []domain.Task) (ApprovalDecision, error) {
	for i := range tasks {
		task := &tasks[i]
		if task.Role != domain.RoleQA {
			continue
		}
		switch task.Status {
		case domain.TaskStatusCompleted, domain.TaskStatusSkipped:
			return ApprovalApproved, nil
		case domain.TaskStatusFailed:
			return ApprovalRejected, nil
		}
	}
	return ApprovalPending, nil
}

// RequiresDispatch реализует ApprovalPolicy.
func (ManualApproval) RequiresDispatch() bool { return true }
