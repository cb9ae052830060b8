// Package orchestrator управляет жизненным циклом заявок.
//
// Orchestrator — "мозг" системы. Он:
//   - Создаёт заявки и инициирует построение графа tasks (taskfactory)
//   - Диспатчит готовые tasks адаптерам провайдеров через circuit breakers
//   - Принимает callbacks о завершении внешней работы (идемпотентно)
//   - Продвигает заявку по статусам через statemachine
//   - Отправляет исчерпавшие повторы tasks в dead letters
//
// Модель выполнения реактивная: каждый вызов ProcessRequest выполняется
// до конца синхронно и возвращается, когда стадия ждёт внешнюю работу.
// Возобновление происходит через новый вызов (callback, retry, timeout
// monitor) — никакого polling внутри ядра нет.
//
// Конкурентность: все изменяющие записи в хранилище условны
// (optimistic concurrency). Проигравший гонку вызов наблюдает уже
// выполненное пост-условие и завершается успешно.
package orchestrator
