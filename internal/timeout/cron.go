package timeout

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер стандартных 5-польных cron-выражений.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextSweep вычисляет время следующего прохода по cron-выражению.
func NextSweep(expr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(after), nil
}

// ValidateCronExpr проверяет корректность cron-выражения.
func ValidateCronExpr(expr string) error {
	_, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// RunCron крутит тики по cron-расписанию вместо фиксированного интервала.
// Подходит для редких плановых проходов (например, ночная переметка).
func (m *Monitor) RunCron(ctx context.Context, expr string) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expr, err)
	}

	m.logger.Info("timeout monitor started", "cron", expr)

	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("timeout monitor stopped")
			return ctx.Err()
		case <-timer.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("timeout sweep failed", "error", err)
			}
		}
	}
}
