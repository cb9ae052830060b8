// Package domain содержит основные сущности системы Conductor.
//
// Сущности:
//   - Request        — заявка на генерацию контента, движется по пайплайну
//   - Task           — единица работы внутри request, принадлежит одной агентной роли
//   - Event          — неизменяемая запись аудита жизненного цикла
//   - DispatchRecord — запись об отправке задачи внешнему провайдеру
//   - DeadLetter     — задача, исчерпавшая бюджет повторов
//
// Все сущности хранятся в PostgreSQL (internal/repo) и сериализуются
// в JSON для API и очередей.
package domain
