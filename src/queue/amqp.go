package queue

import (
	"context"
	"sync"
	"time"

	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/oops"
	amqp "github.com/rabbitmq/amqp091-go"
)

// A Queue on RabbitMQ durable queues. Dequeue polls with basic.get and
// auto-ack, which gives the same at-most-once handoff as a list pop.
type AMQPQueue struct {
	conn *amqp.Connection

	mu       sync.Mutex
	channel  *amqp.Channel
	declared map[string]bool

	pollInterval time.Duration
}

var _ Queue = &AMQPQueue{}

func NewAMQPQueue(cfg config.QueueConfig) (*AMQPQueue, error) {
	conn, err := amqp.Dial(cfg.AMQPUrl)
	if err != nil {
		return nil, oops.New(err, "failed to connect to RabbitMQ")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, oops.New(err, "failed to open RabbitMQ channel")
	}

	return &AMQPQueue{
		conn:         conn,
		channel:      channel,
		declared:     make(map[string]bool),
		pollInterval: 200 * time.Millisecond,
	}, nil
}

// Must be called with q.mu held.
func (q *AMQPQueue) declare(name string) error {
	if q.declared[name] {
		return nil
	}
	_, err := q.channel.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return oops.New(err, "failed to declare queue %s", name)
	}
	q.declared[name] = true
	return nil
}

func (q *AMQPQueue) Enqueue(ctx context.Context, name string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(name); err != nil {
		return err
	}

	err := q.channel.PublishWithContext(ctx,
		"",    // exchange
		name,  // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return oops.New(err, "failed to publish to %s", name)
	}
	return nil
}

func (q *AMQPQueue) Dequeue(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		payload, ok, err := q.tryGet(name)
		if err != nil {
			return nil, err
		}
		if ok {
			return payload, nil
		}

		poll := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, nil
		case <-deadline.C:
			poll.Stop()
			return nil, nil
		case <-poll.C:
		}
	}
}

func (q *AMQPQueue) tryGet(name string) ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(name); err != nil {
		return nil, false, err
	}
	msg, ok, err := q.channel.Get(name, true)
	if err != nil {
		return nil, false, oops.New(err, "failed to get from %s", name)
	}
	if !ok {
		return nil, false, nil
	}
	return msg.Body, true, nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.channel.Close()
	return q.conn.Close()
}
