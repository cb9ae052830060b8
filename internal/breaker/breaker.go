package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State — режим работы breaker.
type State string

const (
	// StateClosed — нормальный режим, диспатчи проходят.
	StateClosed State = "closed"

	// StateOpen — зависимость недоступна, все диспатчи отклоняются сразу.
	StateOpen State = "open"

	// StateHalfOpen — после cooldown разрешена одна пробная попытка.
	StateHalfOpen State = "half_open"
)

// ErrOpen — зависимость недоступна, диспатч отклонён без обращения к ней.
// Вызывающие отличают эту ошибку от падения самого task и не тратят
// на неё бюджет повторов.
var ErrOpen = errors.New("circuit breaker is open")

// Значения по умолчанию.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 5 * time.Minute
)

// Config — параметры breaker.
type Config struct {
	// FailureThreshold — сколько последовательных отказов открывает breaker.
	FailureThreshold int

	// Cooldown — сколько держать breaker открытым до пробной попытки.
	Cooldown time.Duration

	// Now — источник времени (для тестов). По умолчанию time.Now.
	Now func() time.Time
}

// Breaker — fail-fast защита одной внешней зависимости.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New создаёт Breaker в закрытом состоянии.
func New(name string, cfg Config) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
		state:     StateClosed,
	}
}

// Name возвращает имя зависимости.
func (b *Breaker) Name() string {
	return b.name
}

// State возвращает текущий режим (с учётом истёкшего cooldown).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.cooldownElapsed() {
		return StateHalfOpen
	}
	return b.state
}

// Allow решает, можно ли выполнить диспатч.
//
// В open возвращает ErrOpen без обращения к зависимости. После
// cooldown переводит breaker в half_open и пропускает ровно одну
// пробную попытку; остальные получают ErrOpen до исхода пробы.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if !b.cooldownElapsed() {
			return fmt.Errorf("%w: %s", ErrOpen, b.name)
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil

	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: %s (probe in flight)", ErrOpen, b.name)
		}
		b.probing = true
		return nil
	}

	return nil
}

// RecordSuccess фиксирует успешный диспатч.
// Из half_open закрывает breaker, в closed сбрасывает счётчик отказов.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	b.state = StateClosed
}

// RecordFailure фиксирует отказ диспатча.
// Проваленная проба возвращает breaker в open с новым cooldown;
// в closed отказ увеличивает счётчик и открывает breaker на пороге.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// Do выполняет fn под защитой breaker.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Failures возвращает текущий счётчик последовательных отказов.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// cooldownElapsed — вызывать под mu.
func (b *Breaker) cooldownElapsed() bool {
	return b.now().Sub(b.openedAt) >= b.cooldown
}
