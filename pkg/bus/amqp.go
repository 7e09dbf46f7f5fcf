package bus

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange  = "events.exchange"
	DLXExchange     = "events.dlx"
	DeadLetterQueue = "events.dead_letter.queue"
)

// AMQP is the RabbitMQ-backed bus used in production.
type AMQP struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(url string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open a channel: %w", err)
	}
	return &AMQP{conn: conn, ch: ch}, nil
}

// SetupTopology declares the exchanges and one queue per topic. Idempotent.
func (a *AMQP) SetupTopology(topics ...string) error {
	if err := a.ch.ExchangeDeclare(EventsExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := a.ch.ExchangeDeclare(DLXExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := a.ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := a.ch.QueueBind(DeadLetterQueue, "", DLXExchange, false, nil); err != nil {
		return err
	}

	for _, topic := range topics {
		queueName := queueForTopic(topic)
		_, err := a.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": DLXExchange, // undeliverable events go to the DLX
		})
		if err != nil {
			return err
		}
		if err := a.ch.QueueBind(queueName, topic, EventsExchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

func queueForTopic(topic string) string {
	return fmt.Sprintf("events.queue.%s", topic)
}

// Publish wraps the payload in an envelope and hands it to the broker. It
// returns once the broker has the message, not once subscribers finish.
func (a *AMQP) Publish(ctx context.Context, topic string, payload any) error {
	_, body, err := newEnvelope(topic, payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return a.ch.PublishWithContext(ctx,
		EventsExchange,
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
}

// Consume opens a delivery channel for a topic's queue. Acks are manual.
func (a *AMQP) Consume(topic string) (<-chan amqp.Delivery, error) {
	return a.ch.Consume(
		queueForTopic(topic),
		"",    // consumer
		false, // auto-ack is false; handlers ack after the outcome is recorded
		false,
		false,
		false,
		nil,
	)
}

func (a *AMQP) Close() {
	a.ch.Close()
	a.conn.Close()
}
