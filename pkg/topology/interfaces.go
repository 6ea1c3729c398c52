package topology

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rmacdonaldsmith/amqpmock-go/pkg/message"
)

var (
	// ErrNotFound is returned when checking an exchange or queue that was never asserted
	ErrNotFound = errors.New("not found")
	// ErrNoSuchExchange is returned when binding or publishing to an unasserted exchange
	ErrNoSuchExchange = errors.New("no such exchange")
	// ErrNoSuchQueue is returned when consuming from an unasserted queue
	ErrNoSuchQueue = errors.New("no such queue")
)

// ExchangeInfo describes an asserted exchange.
type ExchangeInfo struct {
	Name string

	// Kind is the declared exchange type. It is recorded but does not change routing:
	// every exchange routes by binding-key pattern.
	Kind string

	// Options are stored as given on first assertion and never interpreted
	Options amqp.Table
}

// QueueInfo describes an asserted queue.
type QueueInfo struct {
	Name      string
	Consumers int
	Options   amqp.Table
}

// Queue converts the info into the amqp091-go queue-declare reply shape.
// Messages is always zero because queues do not buffer.
func (q QueueInfo) Queue() amqp.Queue {
	return amqp.Queue{Name: q.Name, Consumers: q.Consumers}
}

// Binding is a directed edge from an exchange to a queue name, guarded by a binding key.
type Binding struct {
	Exchange string
	Queue    string
	Key      string
}

// Subscriber is a consumer registered on a queue.
type Subscriber struct {
	Tag     string
	Handler message.Handler
}

// Route is one binding that matched a routing key, with the subscribers of its
// target queue at the time of routing. Subscribers is empty when the queue does
// not exist or has no consumers.
type Route struct {
	Binding     Binding
	Subscribers []Subscriber
}

// Snapshot is a copy of the registry state, sorted by name.
type Snapshot struct {
	Exchanges []ExchangeInfo
	Queues    []QueueInfo
	Bindings  []Binding
}

// Store manages exchanges, queues, bindings and subscribers.
type Store interface {
	// AssertExchange creates the exchange if absent and returns it.
	// Re-asserting keeps the kind and options from the first call.
	AssertExchange(name, kind string, options amqp.Table) ExchangeInfo

	// CheckExchange returns ErrNotFound if the exchange was never asserted.
	CheckExchange(name string) error

	// AssertQueue creates the queue if absent and returns it.
	AssertQueue(name string, options amqp.Table) QueueInfo

	// CheckQueue returns the queue, or ErrNotFound if it does not exist.
	CheckQueue(name string) (QueueInfo, error)

	// DeleteQueue removes the queue and its subscribers. Bindings that target
	// the queue by name are left in place. Reports whether the queue existed.
	DeleteQueue(name string) bool

	// Bind appends a binding from exchange to queue under key. Duplicate bindings
	// are kept. Returns ErrNoSuchExchange if the exchange was never asserted.
	Bind(queue, exchange, key string) error

	// Unbind removes the first binding of exchange whose key equals key.
	// The queue argument is not consulted. Reports whether a binding was removed.
	Unbind(queue, exchange, key string) bool

	// Consume registers handler on queue and returns its generated consumer tag.
	// Returns ErrNoSuchQueue if the queue does not exist.
	Consume(queue string, handler message.Handler) (string, error)

	// Cancel removes the first subscriber with the given tag from whichever
	// queue holds it. Reports whether a subscriber was removed.
	Cancel(consumerTag string) bool

	// Route returns every binding of exchange matching routingKey, in binding
	// order, with its resolved subscribers. Returns ErrNoSuchExchange if the
	// exchange was never asserted.
	Route(exchange, routingKey string) ([]Route, error)

	// Snapshot returns a copy of the current registry state.
	Snapshot() Snapshot

	// Reset removes all exchanges and queues.
	Reset()
}
