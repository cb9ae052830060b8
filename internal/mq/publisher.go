package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Conductor/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRequestCreated MessageType = "request.created"
	MessageTypeTaskDispatch   MessageType = "task.dispatch"
	MessageTypeTaskCallback   MessageType = "task.callback"
	MessageTypeDeadLetter     MessageType = "task.dead_letter"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RequestCreatedPayload — payload для сообщения о новой заявке.
type RequestCreatedPayload struct {
	RequestID uuid.UUID `json:"request_id"`
}

// TaskDispatchPayload — задание для провайдера.
type TaskDispatchPayload struct {
	TaskID     uuid.UUID        `json:"task_id"`
	RequestID  uuid.UUID        `json:"request_id"`
	JobID      string           `json:"job_id"`
	Role       domain.AgentRole `json:"role"`
	Key        string           `json:"key"`
	Brief      map[string]any   `json:"brief,omitempty"`
	Inputs     map[string]any   `json:"inputs,omitempty"`
	TimeoutSec int              `json:"timeout_sec"`

	// DelayMs — задержка перед выполнением (backoff повтора).
	DelayMs int64 `json:"delay_ms,omitempty"`
}

// TaskCallbackPayload — терминальный исход внешнего задания.
type TaskCallbackPayload struct {
	TaskID       uuid.UUID      `json:"task_id"`
	JobID        string         `json:"job_id"`
	Status       string         `json:"status"` // COMPLETED или FAILED
	OutputURL    string         `json:"output_url,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CostCents    int64          `json:"cost_cents,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishRequestCreated публикует событие о новой заявке.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRequestCreated(ctx context.Context, requestID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRequestCreated,
		Payload:   RequestCreatedPayload{RequestID: requestID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRequests, RoutingKeyCreated, msg)
}

// PublishTaskDispatch публикует задание для провайдера.
// Потребитель: Provider worker.
func (p *Publisher) PublishTaskDispatch(ctx context.Context, payload TaskDispatchPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskDispatch,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyDispatch, msg)
}

// PublishCallback публикует исход внешнего задания.
// Потребитель: Orchestrator.
func (p *Publisher) PublishCallback(ctx context.Context, payload TaskCallbackPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskCallback,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyCallback, msg)
}

// PublishDeadLetter публикует dead letter в DLQ-очередь.
// Реализует deadletter.Publisher.
func (p *Publisher) PublishDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeDeadLetter,
		Payload:   dl,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeDLQ, RoutingKeyDLQTasks, msg)
}
