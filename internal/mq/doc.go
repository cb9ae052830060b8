// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - request.created   — создана новая заявка
//   - task.dispatch     — задание для внешнего провайдера
//   - task.callback     — терминальный исход внешнего задания
//   - task.dead_letter  — task исчерпал бюджет повторов
//
// Exchanges:
//   - conductor.requests — события заявок
//   - conductor.tasks    — диспатч и callbacks tasks
//   - conductor.dlq      — dead letter queue
//
// MQ ускоряет реакцию, но не является источником истины: при недоступном
// брокере оркестратор деградирует до polling по БД без потери корректности.
package mq
