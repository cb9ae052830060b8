package statemachine

import (
	"fmt"
	"strings"

	"github.com/shaiso/Conductor/internal/domain"
)

// InvalidTransitionError — попытка недопустимого перехода.
//
// Возвращается Transition для fail-fast у прямых вызывающих;
// оркестратор работает с Result и эту ошибку не бросает.
type InvalidTransitionError struct {
	From      domain.RequestStatus
	To        domain.RequestStatus
	Reason    string
	BlockedBy []string
}

// Error реализует error.
func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	if len(e.BlockedBy) > 0 {
		msg += " (blocked by: " + strings.Join(e.BlockedBy, ", ") + ")"
	}
	return msg
}
