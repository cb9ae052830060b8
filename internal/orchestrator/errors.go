package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRequestNotFound — заявка не найдена.
	ErrRequestNotFound = errors.New("request not found")

	// ErrTaskNotFound — task не найден.
	ErrTaskNotFound = errors.New("task not found")

	// ErrRequestTerminal — заявка в терминальном статусе, операция невозможна.
	ErrRequestTerminal = errors.New("request is in a terminal status")

	// ErrTaskNotFailed — retry/requeue возможен только для task в FAILED.
	ErrTaskNotFailed = errors.New("task is not in FAILED status")

	// ErrRetryExhausted — бюджет повторов task исчерпан.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrNoDispatcher — для роли не зарегистрирован адаптер.
	ErrNoDispatcher = errors.New("no dispatcher registered for role")

	// ErrInvalidCallback — callback с недопустимым терминальным статусом.
	ErrInvalidCallback = errors.New("invalid callback status")

	// ErrDepthExceeded — превышена граница рекурсии переходов.
	// Указывает на цикл в таблице переходов и считается системной ошибкой.
	ErrDepthExceeded = errors.New("transition recursion depth exceeded")

	// ErrInternal — необработанный сбой внутри обработчика.
	ErrInternal = errors.New("internal orchestrator error")
)
