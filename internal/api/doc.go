// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go            — Handler с DI (оркестратор, репозитории, publisher)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects (request/response)
//   - request_handler.go    — обработчики для /requests
//   - task_handler.go       — обработчики для /tasks
//   - callback_handler.go   — webhook провайдеров
//   - deadletter_handler.go — обработчики для /dead-letters
//
// Чтение идёт напрямую через репозитории, изменение состояния — только
// через оркестратора. Webhook callbacks идемпотентны: повторная доставка
// отвечает 200 без побочных эффектов.
package api
