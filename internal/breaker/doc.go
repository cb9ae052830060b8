// Package breaker — circuit breaker для внешних зависимостей.
//
// По одному Breaker на зависимость (workflow engine, конкретный
// AI-провайдер), все диспатчи к зависимости проходят через общий
// экземпляр из Registry. Состояние живёт только в памяти процесса:
// после рестарта breaker пересоздаётся закрытым и заново прощупывает
// зависимость. В multi-instance деплое каждый процесс пробует
// независимо — осознанный компромисс в пользу простоты.
package breaker
