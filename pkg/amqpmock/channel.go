package amqpmock

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/amqpmock-go/pkg/message"
)

// Channel exposes the topology and publish/consume operations. Each method
// is queued on the broker's loop and returns a Future for its outcome.
type Channel struct {
	broker *Broker
}

// AssertQueue creates the queue if it does not exist. Options are stored as
// given on first assertion and otherwise ignored.
func (ch *Channel) AssertQueue(name string, options amqp.Table) *Future[amqp.Queue] {
	return submit(ch.broker, func() (amqp.Queue, error) {
		return ch.broker.store.AssertQueue(name, options).Queue(), nil
	})
}

// CheckQueue fails with topology.ErrNotFound if the queue does not exist.
func (ch *Channel) CheckQueue(name string) *Future[amqp.Queue] {
	return submit(ch.broker, func() (amqp.Queue, error) {
		info, err := ch.broker.store.CheckQueue(name)
		if err != nil {
			return amqp.Queue{}, err
		}
		return info.Queue(), nil
	})
}

// AssertExchange creates the exchange if it does not exist and resolves with
// its name. The kind (amqp.ExchangeTopic, amqp.ExchangeDirect, ...) is
// recorded only; every exchange routes by binding pattern.
func (ch *Channel) AssertExchange(name, kind string, options amqp.Table) *Future[string] {
	return submit(ch.broker, func() (string, error) {
		return ch.broker.store.AssertExchange(name, kind, options).Name, nil
	})
}

// CheckExchange fails with topology.ErrNotFound if the exchange does not exist.
func (ch *Channel) CheckExchange(name string) *Future[struct{}] {
	return submitErr(ch.broker, func() error {
		return ch.broker.store.CheckExchange(name)
	})
}

// BindQueue routes messages published to exchange with a routing key matching
// pattern to queue. The queue does not need to exist yet.
func (ch *Channel) BindQueue(queue, exchange, pattern string, args amqp.Table) *Future[struct{}] {
	return submitErr(ch.broker, func() error {
		return ch.broker.store.Bind(queue, exchange, pattern)
	})
}

// UnbindQueue removes the first binding of exchange whose pattern equals
// pattern. Missing exchanges and bindings are ignored.
func (ch *Channel) UnbindQueue(queue, exchange, pattern string, args amqp.Table) *Future[struct{}] {
	return submitErr(ch.broker, func() error {
		ch.broker.store.Unbind(queue, exchange, pattern)
		return nil
	})
}

// Publish routes content to every subscriber of every queue bound to exchange
// with a pattern matching routingKey, and resolves with the number of
// deliveries planned. Handlers run in a later turn of the loop.
func (ch *Channel) Publish(exchange, routingKey string, content []byte, props message.Properties) *Future[int] {
	return submit(ch.broker, func() (int, error) {
		return ch.broker.engine.Publish(exchange, routingKey, content, props)
	})
}

// PublishMsg is Publish for an amqp091-go Publishing.
func (ch *Channel) PublishMsg(exchange, routingKey string, msg amqp.Publishing) *Future[int] {
	props, body := message.FromPublishing(msg)
	return ch.Publish(exchange, routingKey, body, props)
}

// Consume registers handler on queue and resolves with its consumer tag.
// It fails with topology.ErrNoSuchQueue if the queue does not exist.
func (ch *Channel) Consume(queue string, handler message.Handler) *Future[string] {
	return submit(ch.broker, func() (string, error) {
		return ch.broker.store.Consume(queue, handler)
	})
}

// Cancel removes the subscriber with consumerTag. Unknown tags are ignored.
func (ch *Channel) Cancel(consumerTag string) *Future[struct{}] {
	return submitErr(ch.broker, func() error {
		ch.broker.store.Cancel(consumerTag)
		return nil
	})
}

// DeleteQueue removes the queue and its subscribers. The removal is applied
// at the end of the next operation submitted after DeleteQueue, so a publish
// issued right after it still reaches the queue. Broker.Flush applies a
// removal that nothing followed. Bindings to the queue name are kept.
func (ch *Channel) DeleteQueue(name string) *Future[struct{}] {
	return submitErr(ch.broker, func() error {
		ch.broker.deleteQueueAfterNext(name)
		return nil
	})
}

// Ack is accepted and ignored.
func (ch *Channel) Ack(msg *message.Message, allUpTo bool) {}

// Nack is accepted and ignored.
func (ch *Channel) Nack(msg *message.Message, allUpTo, requeue bool) {}

// Prefetch is accepted and ignored.
func (ch *Channel) Prefetch(count int) {}

// On registers an event listener. Channels never emit events.
func (ch *Channel) On(event string, listener func(error)) {}

// Once registers a one-shot event listener. Channels never emit events.
func (ch *Channel) Once(event string, listener func(error)) {}

// SetMaxListeners is accepted and ignored.
func (ch *Channel) SetMaxListeners(n int) {}

// Close resolves immediately. The channel stays usable because it is shared.
func (ch *Channel) Close() *Future[struct{}] {
	ch.broker.logger.Debug("Channel closed", zap.Bool("shared", true))
	return resolvedFuture(struct{}{}, nil)
}
