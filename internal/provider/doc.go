// Package provider связывает оркестратор с внешними исполнителями.
//
// Router выбирает адаптера по роли агента. EngineDispatcher — основной
// адаптер: публикует задание в очередь tasks.dispatch и возвращает
// сгенерированный идентификатор задания; исполнитель обязан указать его
// в callback, иначе исход не сматчится с отправкой.
//
// Worker — имитация внешних исполнителей для локальной разработки и
// стендов: потребляет tasks.dispatch и отвечает правдоподобными
// callbacks без обращения к БД. Через FailKeys можно воспроизводить
// сбои, повторы и dead letters.
package provider
