package provider

import (
	"errors"
	"fmt"

	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/orchestrator"
)

// ErrUnknownRole — для роли не зарегистрирован провайдер.
var ErrUnknownRole = errors.New("unknown agent role")

// Router выбирает провайдера по роли агента.
//
// Реализует orchestrator.DispatcherRouter. Явная регистрация на роль
// имеет приоритет над fallback-провайдером.
type Router struct {
	byRole   map[domain.AgentRole]orchestrator.Dispatcher
	fallback orchestrator.Dispatcher
}

// NewRouter создаёт пустой Router.
func NewRouter() *Router {
	return &Router{
		byRole: make(map[domain.AgentRole]orchestrator.Dispatcher),
	}
}

// Register привязывает провайдера к роли.
func (r *Router) Register(role domain.AgentRole, d orchestrator.Dispatcher) {
	r.byRole[role] = d
}

// SetFallback задаёт провайдера для ролей без явной привязки.
func (r *Router) SetFallback(d orchestrator.Dispatcher) {
	r.fallback = d
}

// For возвращает провайдера для роли.
func (r *Router) For(role domain.AgentRole) (orchestrator.Dispatcher, error) {
	if d, ok := r.byRole[role]; ok {
		return d, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
}
