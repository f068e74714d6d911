package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

const (
	// Exchange is the single topic exchange every entity class routes
	// through; routing key = entity class name.
	Exchange = "discogs.extractor"
	// DeadLetterExchange receives rejected/TTL-expired messages from every
	// consumer-family queue.
	DeadLetterExchange = "discogs.extractor.dlx"
)

// consumerFamilies are the two downstream storage builders that each must
// see every published record exactly once: one queue set per entity class
// per family.
var consumerFamilies = []string{"graph", "relational"}

// system names this producer in the queue naming convention
// "{system}-{consumer}-{entity}".
const system = "discogs"

// queueName returns the durable queue name for one (consumer family, entity
// class) pair.
func queueName(family string, class canonical.EntityClass) string {
	return system + "-" + family + "-" + string(class)
}

func deadLetterQueueName(family string, class canonical.EntityClass) string {
	return queueName(family, class) + ".dlq"
}

// declareTopology declares the exchange, DLX, and every consumer-family
// queue (plus its paired dead-letter queue) idempotently — safe to call
// again after a reconnect since every declaration uses the same durable
// arguments every time.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return err
	}

	for _, class := range canonical.Classes {
		routingKey := string(class)
		for _, family := range consumerFamilies {
			dlq := deadLetterQueueName(family, class)
			if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
				return err
			}
			if err := ch.QueueBind(dlq, routingKey, DeadLetterExchange, false, nil); err != nil {
				return err
			}

			args := amqp.Table{
				"x-dead-letter-exchange":    DeadLetterExchange,
				"x-dead-letter-routing-key": routingKey,
			}
			q := queueName(family, class)
			if _, err := ch.QueueDeclare(q, true, false, false, false, args); err != nil {
				return err
			}
			if err := ch.QueueBind(q, routingKey, Exchange, false, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
