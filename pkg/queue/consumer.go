package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

const defaultPrefetch = 10

var ErrMalformedMessage = errors.New("malformed call_completed message")

// HandlerFunc processes one completed call. Returning an error nacks the
// delivery; it is requeued once and dropped on the second failure.
type HandlerFunc func(ctx context.Context, transcript domain.CallTranscript) error

// Consumer reads completed-call messages from a durable queue.
type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	prefetch int
	handle   HandlerFunc
	inFlight sync.WaitGroup
}

// NewConsumer connects and declares the queue. The prefetch count bounds
// how many deliveries are handled concurrently.
func NewConsumer(cfg environments.AMQPConfig, handle HandlerFunc) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}

	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	return &Consumer{conn: conn, ch: ch, queue: cfg.Queue, prefetch: defaultPrefetch, handle: handle}, nil
}

// Run consumes until ctx is cancelled or the broker closes the channel,
// then waits for in-flight deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(
		c.queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Infof("Consuming completed calls from %s (prefetch %d)", c.queue, c.prefetch)

	defer c.inFlight.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp delivery channel closed")
			}

			c.inFlight.Add(1)
			go func() {
				defer c.inFlight.Done()
				c.process(ctx, d)
			}()
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	transcript, err := decode(d.Body)
	if err != nil {
		logger.Warnf("Dropping message %d: %v", d.DeliveryTag, err)
		_ = d.Reject(false)
		return
	}

	if err := c.handle(ctx, transcript); err != nil {
		requeue := !d.Redelivered
		logger.Errorf("Failed to handle call %s (requeue: %t): %v", transcript.CallID, requeue, err)
		_ = d.Nack(false, requeue)
		return
	}

	_ = d.Ack(false)
}

func decode(body []byte) (domain.CallTranscript, error) {
	var transcript domain.CallTranscript
	if err := json.Unmarshal(body, &transcript); err != nil {
		return transcript, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if transcript.CallID == "" || transcript.Transcript == "" {
		return transcript, fmt.Errorf("%w: callId and transcript are required", ErrMalformedMessage)
	}
	return transcript, nil
}

func (c *Consumer) Close() error {
	if err := c.ch.Close(); err != nil {
		_ = c.conn.Close()
		return err
	}
	return c.conn.Close()
}
