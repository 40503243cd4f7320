package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeExecutions Exchange = "stepflow.executions"
	ExchangeTasks      Exchange = "stepflow.tasks"
	ExchangeDLQ        Exchange = "stepflow.dlq"
)

const (
	QueueTasksInvoke     Queue = "tasks.invoke"
	QueueExecutionEvents Queue = "executions.events"
	QueueDLQTasks        Queue = "dlq.tasks"
)

const (
	RoutingKeyInvoke          RoutingKey = "invoke"
	RoutingKeyExecutionPrefix RoutingKey = "execution."
	RoutingKeyExecutionAll    RoutingKey = "execution.#"
	RoutingKeyDLQTasks        RoutingKey = "tasks"
)

// executionEventsMaxLength ограничивает очередь событий, у которой может
// не быть потребителя: старые события вытесняются новыми.
const executionEventsMaxLength = 10000

// ExchangeSpec — объявление обменника.
type ExchangeSpec struct {
	Name Exchange
	Kind string
}

// QueueSpec — объявление очереди.
type QueueSpec struct {
	Name Queue
	Args amqp.Table
	// Note — кто потребляет очередь (для описания топологии).
	Note string
}

// BindingSpec — привязка очереди к обменнику.
type BindingSpec struct {
	Queue    Queue
	Key      RoutingKey
	Exchange Exchange
}

// Topology — набор обменников, очередей и привязок stepflow.
type Topology struct {
	Exchanges []ExchangeSpec
	Queues    []QueueSpec
	Bindings  []BindingSpec
}

// DefaultTopology возвращает топологию, которую используют сервер и воркеры.
func DefaultTopology() Topology {
	return Topology{
		Exchanges: []ExchangeSpec{
			{ExchangeExecutions, amqp.ExchangeTopic},
			{ExchangeTasks, amqp.ExchangeDirect},
			{ExchangeDLQ, amqp.ExchangeDirect},
		},
		Queues: []QueueSpec{
			{
				Name: QueueTasksInvoke,
				Args: amqp.Table{
					"x-dead-letter-exchange":    string(ExchangeDLQ),
					"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
				},
				Note: "stepflow-worker, reply: " + DirectReplyTo,
			},
			{
				Name: QueueExecutionEvents,
				Args: amqp.Table{
					"x-max-length": int32(executionEventsMaxLength),
					"x-overflow":   "drop-head",
				},
				Note: "external subscribers",
			},
			{Name: QueueDLQTasks, Note: "manual processing"},
		},
		Bindings: []BindingSpec{
			{QueueTasksInvoke, RoutingKeyInvoke, ExchangeTasks},
			{QueueExecutionEvents, RoutingKeyExecutionAll, ExchangeExecutions},
			{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
		},
	}
}

// declarer — часть *amqp.Channel, нужная для объявления топологии.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// SetupTopology объявляет DefaultTopology. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	topo := DefaultTopology()
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return topo.declare(ch)
	})
}

// declare объявляет всё durable: обменники, затем очереди, затем привязки.
func (t Topology) declare(ch declarer) error {
	for _, ex := range t.Exchanges {
		if err := ch.ExchangeDeclare(string(ex.Name), ex.Kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.Name, err)
		}
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(string(q.Name), true, false, false, false, q.Args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
	}
	for _, b := range t.Bindings {
		if err := ch.QueueBind(string(b.Queue), string(b.Key), string(b.Exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.Queue, b.Exchange, err)
		}
	}
	return nil
}

// String описывает топологию деревом обменник → очереди.
func (t Topology) String() string {
	notes := make(map[Queue]string, len(t.Queues))
	for _, q := range t.Queues {
		notes[q.Name] = q.Note
	}

	var b strings.Builder
	for _, ex := range t.Exchanges {
		fmt.Fprintf(&b, "%s (%s)\n", ex.Name, ex.Kind)
		for _, bind := range t.Bindings {
			if bind.Exchange != ex.Name {
				continue
			}
			fmt.Fprintf(&b, "  └── %s [routing: %s]", bind.Queue, bind.Key)
			if n := notes[bind.Queue]; n != "" {
				fmt.Fprintf(&b, " → %s", n)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// TopologyInfo возвращает описание DefaultTopology для логов.
func TopologyInfo() string {
	return DefaultTopology().String()
}
