// Package retrypolicy — политика повторов для упавших tasks.
//
// Policy не содержит состояния и не планирует таймеры: она лишь
// отвечает, разрешён ли повтор и какую задержку выдержать.
// Планирование — забота вызывающих (оркестратор, внешний scheduler).
package retrypolicy

import "time"

// Значения по умолчанию.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 5 * time.Second
	DefaultMultiplier = 2.0
	DefaultMaxDelay   = 60 * time.Second
)

// Policy — параметры политики повторов.
type Policy struct {
	// MaxRetries — максимум повторов на task.
	MaxRetries int

	// BaseDelay — задержка перед первым повтором.
	BaseDelay time.Duration

	// Multiplier — множитель роста задержки.
	Multiplier float64

	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration
}

// Default возвращает политику по умолчанию (3 повтора, 5s → 10s → 20s, cap 60s).
func Default() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Multiplier: DefaultMultiplier,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Allow возвращает true, если повтор с текущим счётчиком разрешён.
// retryCount — количество уже выполненных повторов.
func (p Policy) Allow(retryCount int) bool {
	return retryCount < p.MaxRetries
}

// Delay возвращает задержку перед повтором номер retryCount+1.
// Экспоненциальный рост от BaseDelay с ограничением MaxDelay.
func (p Policy) Delay(retryCount int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
