// Package statemachine — чистая логика переходов заявки.
//
// Компонент не имеет побочных эффектов и не трогает БД:
//   - таблица допустимых переходов между статусами
//   - гейтинг по обязательным ролям стадии
//   - решение об автоматическом продвижении (auto-advance)
//
// Все отказы возвращаются как типизированные результаты; ошибка
// *InvalidTransitionError предназначена для прямых вызовов Transition
// вне оркестратора (fail-fast).
package statemachine
