package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRequests Exchange = "conductor.requests"
	ExchangeTasks    Exchange = "conductor.tasks"
	ExchangeDLQ      Exchange = "conductor.dlq"
)

// Queues — имена очередей.
const (
	QueueRequestsCreated Queue = "requests.created"
	QueueTasksDispatch   Queue = "tasks.dispatch"
	QueueTasksCallbacks  Queue = "tasks.callbacks"
	QueueDLQTasks        Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyCreated  RoutingKey = "created"
	RoutingKeyDispatch RoutingKey = "dispatch"
	RoutingKeyCallback RoutingKey = "callback"
	RoutingKeyDLQTasks RoutingKey = "tasks"
)

// SetupTopology объявляет exchanges, queues и bindings.
// Все объявления идемпотентны, вызов при каждом старте безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRequests, "direct"},
		{ExchangeTasks, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Очередь диспатча получает DLQ: недоставленные tasks не теряются.
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// requests.created — новые заявки для оркестратора.
		{QueueRequestsCreated, nil},

		// tasks.dispatch — задания для провайдеров, с DLQ.
		{QueueTasksDispatch, dlqArgs},

		// tasks.callbacks — исходы внешних заданий для оркестратора.
		{QueueTasksCallbacks, nil},

		// dlq.tasks — сама DLQ очередь.
		{QueueDLQTasks, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRequestsCreated, RoutingKeyCreated, ExchangeRequests},
		{QueueTasksDispatch, RoutingKeyDispatch, ExchangeTasks},
		{QueueTasksCallbacks, RoutingKeyCallback, ExchangeTasks},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conductor RabbitMQ Topology:

    conductor.requests (direct)
    └── requests.created [routing: created]
            Consumer: Orchestrator

    conductor.tasks (direct)
    ├── tasks.dispatch [routing: dispatch]
    │       Consumer: Provider worker
    │       DLQ: dlq.tasks
    └── tasks.callbacks [routing: callback]
            Consumer: Orchestrator

    conductor.dlq (direct)
    └── dlq.tasks [routing: tasks]
            Manual processing
  `
}
