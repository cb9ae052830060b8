package breaker

import "sync"

// Registry — реестр breakers по имени зависимости.
//
// Breaker создаётся при первом обращении и живёт до конца процесса.
// Registry внедряется в оркестратор как зависимость, чтобы тесты
// могли подставлять свежие breakers на каждый случай.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry создаёт Registry с общей конфигурацией для всех breakers.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get возвращает breaker зависимости, создавая его при первом обращении.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// States возвращает снимок состояний всех breakers (для метрик и API).
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
