package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	stageExchange = "ytsynch.stages"
	// Broker-side bounds on each stage queue. Stale routing messages are
	// worthless after a day: the next planning round re-emits them.
	stageQueueMaxLength = 100000
	stageMessageTTL     = 86400000 // ms
	// How long a publisher waits for the broker to confirm a message
	// before giving up on it.
	publishAckWait = 10 * time.Second
)

// AMQPQueue is a broker-backed stage queue in front of RabbitMQ.
type AMQPQueue struct {
	name string
	log  *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	out     chan Message
	done    chan struct{}
	closed  bool
}

// NewAMQPQueue connects a stage queue to the broker: the queue is declared
// durable, bound to the stage exchange, and consumed into Messages().
func NewAMQPQueue(url, name string, log *zap.Logger) (*AMQPQueue, error) {
	if log == nil {
		log = zap.NewNop()
	}

	q := &AMQPQueue{
		name: name,
		log:  log,
		out:  make(chan Message),
		done: make(chan struct{}),
	}
	if err := q.connect(url); err != nil {
		return nil, fmt.Errorf("stage queue %s: %w", name, err)
	}
	return q, nil
}

func (q *AMQPQueue) connect(url string) (err error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	// Publisher confirms make Publish a durable handoff: a message is only
	// reported published once the broker owns it.
	if err = ch.Confirm(false); err != nil {
		return fmt.Errorf("put channel in confirm mode: %w", err)
	}

	if err = q.declareTopology(ch); err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.name,
		"",    // generated consumer tag
		false, // manual acks
		false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.name, err)
	}

	q.conn = conn
	q.channel = ch

	go q.pump(deliveries)

	q.log.Info("stage queue connected",
		zap.String("queue", q.name),
		zap.String("exchange", stageExchange),
	)
	return nil
}

// declareTopology asserts the exchange, the bounded durable queue, and the
// binding between them. Declarations are idempotent, so every daemon start
// converges on the same topology.
func (q *AMQPQueue) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(stageExchange, "direct",
		true,  // durable
		false, // no auto-delete
		false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", stageExchange, err)
	}

	bounds := amqp.Table{
		"x-message-ttl": stageMessageTTL,
		"x-max-length":  stageQueueMaxLength,
	}
	if _, err := ch.QueueDeclare(q.name,
		true,  // durable
		false, // no auto-delete
		false, false, bounds); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.name, err)
	}

	if err := ch.QueueBind(q.name, q.name, stageExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", q.name, err)
	}
	return nil
}

func (q *AMQPQueue) pump(deliveries <-chan amqp.Delivery) {
	defer close(q.out)

	for {
		select {
		case <-q.done:
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}

			var msg Message
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				q.log.Warn("dropping undecodable stage message",
					zap.String("queue", q.name), zap.Error(err))
				_ = delivery.Nack(false, false)
				continue
			}

			select {
			case q.out <- msg:
				_ = delivery.Ack(false)
			case <-q.done:
				_ = delivery.Nack(false, true)
				return
			}
		}
	}
}

// Publish hands one message to the broker and waits for its confirmation,
// bounded by publishAckWait and the caller's context.
func (q *AMQPQueue) Publish(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.channel == nil {
		return ErrQueueClosed
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode stage message: %w", err)
	}

	confirmation, err := q.channel.PublishWithDeferredConfirmWithContext(ctx,
		stageExchange, q.name,
		true,  // mandatory: a missing binding is a bug, not silence
		false, // immediate is unsupported by modern brokers
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID.String(),
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", q.name, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, publishAckWait)
	defer cancel()

	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", q.name, err)
	}
	if !acked {
		return fmt.Errorf("broker refused message %s on %s", msg.ID, q.name)
	}
	return nil
}

func (q *AMQPQueue) Messages() <-chan Message {
	return q.out
}

func (q *AMQPQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.channel == nil {
		return 0
	}
	state, err := q.channel.QueueDeclarePassive(q.name, true, false, false, false, amqp.Table{
		"x-message-ttl": stageMessageTTL,
		"x-max-length":  stageQueueMaxLength,
	})
	if err != nil {
		return 0
	}
	return state.Messages
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)

	var firstErr error
	if q.channel != nil {
		if err := q.channel.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close channel: %w", err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection: %w", err)
		}
	}
	return firstErr
}
