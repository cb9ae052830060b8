// Package timeout находит подвисшие tasks.
//
// Monitor периодически опрашивает БД на предмет tasks, которые находятся
// в работе дольше своего таймаута, и передаёт каждый оркестратору как
// сбой с кодом TIMEOUT. Дальше действует обычная политика повторов.
//
// Запуск либо с фиксированным интервалом (Run), либо по cron-расписанию
// (RunCron). При нескольких инстансах лидер выбирается в main.go через
// advisory lock PostgreSQL — сам Monitor об этом не знает.
package timeout
