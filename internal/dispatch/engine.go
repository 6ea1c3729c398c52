// Package dispatch routes published messages to the subscribers of matching queues.
package dispatch

import (
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/amqpmock-go/internal/metrics"
	"github.com/rmacdonaldsmith/amqpmock-go/pkg/message"
	"github.com/rmacdonaldsmith/amqpmock-go/pkg/topology"
)

// Scheduler queues a task to run after the current one.
type Scheduler interface {
	Defer(task func())
}

// Engine plans deliveries for published messages and hands them to a Scheduler.
// Like the store it reads from, it must be confined to one goroutine.
type Engine struct {
	store     topology.Store
	scheduler Scheduler
	metrics   *metrics.Collector
	logger    *zap.Logger

	lastDeliveryTag uint64
}

type delivery struct {
	queue      string
	subscriber topology.Subscriber
	msg        *message.Message
}

// NewEngine creates an engine. A nil collector or logger is replaced by an
// unregistered collector and a no-op logger.
func NewEngine(store topology.Store, scheduler Scheduler, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if collector == nil {
		collector, _ = metrics.NewCollector(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:     store,
		scheduler: scheduler,
		metrics:   collector,
		logger:    logger,
	}
}

// Publish resolves the subscribers for routingKey now and defers invoking
// their handlers to a single scheduled task. It returns the number of planned
// deliveries. Unroutable messages are dropped without error.
func (e *Engine) Publish(exchange, routingKey string, content []byte, props message.Properties) (int, error) {
	routes, err := e.store.Route(exchange, routingKey)
	if err != nil {
		return 0, err
	}

	e.metrics.Published.WithLabelValues(exchange).Inc()

	if len(routes) == 0 {
		e.metrics.Unroutable.WithLabelValues(exchange).Inc()
		e.logger.Debug("Message matched no binding",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
		)
		return 0, nil
	}

	msg := message.New(exchange, routingKey, content, props)

	var deliveries []delivery
	for _, route := range routes {
		e.metrics.Routed.WithLabelValues(exchange, route.Binding.Queue).Inc()

		if len(route.Subscribers) == 0 {
			e.logger.Debug("Matched queue has no subscribers",
				zap.String("exchange", exchange),
				zap.String("queue", route.Binding.Queue),
				zap.String("routing_key", routingKey),
			)
			continue
		}

		for _, sub := range route.Subscribers {
			e.lastDeliveryTag++
			deliveries = append(deliveries, delivery{
				queue:      route.Binding.Queue,
				subscriber: sub,
				msg:        msg.Copy().WithDelivery(sub.Tag, e.lastDeliveryTag),
			})
		}
	}

	if len(deliveries) == 0 {
		return 0, nil
	}

	e.scheduler.Defer(func() {
		for _, d := range deliveries {
			e.deliver(d)
		}
	})
	return len(deliveries), nil
}

func (e *Engine) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.HandlerPanics.WithLabelValues(d.queue).Inc()
			e.logger.Warn("Recovered panic in message handler",
				zap.String("queue", d.queue),
				zap.String("consumer_tag", d.subscriber.Tag),
				zap.Any("panic", r),
			)
		}
	}()

	e.metrics.Delivered.WithLabelValues(d.queue).Inc()
	d.subscriber.Handler(d.msg)
}
