package rabbit

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology is the exchange/queue layout. Every live queue is bound to
// Exchange under its own name as routing key and dead-letters into
// DeadLetterExchange under "<queue>.dlq", which routes to a durable
// queue of the same name.
type Topology struct {
	Exchange           string
	DeadLetterExchange string
	Queues             []string
}

func DefaultTopology() Topology {
	return Topology{
		Exchange:           "shipping.exchange",
		DeadLetterExchange: "shipping.dlx",
		Queues:             []string{"shipping.notification"},
	}
}

func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// Declare creates the layout idempotently.
func (tp Topology) Declare(ch Channel) error {
	for _, ex := range []string{tp.Exchange, tp.DeadLetterExchange} {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}
	for _, q := range tp.Queues {
		dlq := DeadLetterQueue(q)
		args := amqp.Table{
			"x-dead-letter-exchange":    tp.DeadLetterExchange,
			"x-dead-letter-routing-key": dlq,
		}
		if _, err := ch.QueueDeclare(q, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, q, tp.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, dlq, tp.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", dlq, err)
		}
	}
	return nil
}

// exchangeFor picks the exchange a destination is published through.
func (tp Topology) exchangeFor(dest string) string {
	if base, ok := strings.CutSuffix(dest, ".dlq"); ok {
		for _, q := range tp.Queues {
			if q == base {
				return tp.DeadLetterExchange
			}
		}
	}
	return tp.Exchange
}
