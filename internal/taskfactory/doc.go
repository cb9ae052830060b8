// Package taskfactory строит граф tasks для заявки по её типу.
//
// Формы графа описаны blueprints (см. blueprint.go). Реестр открыт:
// новый тип контента регистрируется без изменений оркестратора.
// CreateTasks идемпотентен — повторный вызов для той же заявки не
// создаёт дубликатов (уникальность request_id+key на уровне БД,
// конфликт вставки трактуется как no-op).
package taskfactory
