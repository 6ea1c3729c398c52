package topology

import (
	"errors"
	"fmt"
	"sort"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/amqpmock-go/internal/pattern"
	"github.com/rmacdonaldsmith/amqpmock-go/pkg/message"
	"github.com/rmacdonaldsmith/amqpmock-go/pkg/topology"
)

// maxTagAttempts bounds regeneration when a generated tag is already live.
const maxTagAttempts = 8

// ErrTagExhausted is returned when no unused consumer tag could be generated
var ErrTagExhausted = errors.New("could not generate unique consumer tag")

type exchange struct {
	name     string
	kind     string
	options  amqp.Table
	bindings []*binding // insertion order
}

type binding struct {
	queue   string
	key     string
	matcher *pattern.Matcher
}

type queue struct {
	name        string
	options     amqp.Table
	subscribers []topology.Subscriber // registration order
}

// InMemoryStore implements the topology.Store interface with plain maps.
// It performs no locking; callers confine it to a single goroutine.
type InMemoryStore struct {
	exchanges map[string]*exchange
	queues    map[string]*queue
	compiler  *pattern.Compiler
	tags      TagGenerator
	logger    *zap.Logger
}

// NewInMemoryStore creates an empty store. A nil compiler, tag generator or
// logger is replaced by a default.
func NewInMemoryStore(compiler *pattern.Compiler, tags TagGenerator, logger *zap.Logger) *InMemoryStore {
	if compiler == nil {
		compiler = pattern.NewCompiler(0, 0)
	}
	if tags == nil {
		tags = &UUIDTagGenerator{prefix: DefaultTagPrefix}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryStore{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queue),
		compiler:  compiler,
		tags:      tags,
		logger:    logger,
	}
}

// AssertExchange creates the exchange if it does not exist yet.
func (s *InMemoryStore) AssertExchange(name, kind string, options amqp.Table) topology.ExchangeInfo {
	if ex, exists := s.exchanges[name]; exists {
		s.logger.Debug("Exchange already exists", zap.String("exchange", name))
		return ex.info()
	}

	if options == nil {
		options = amqp.Table{}
	}
	ex := &exchange{name: name, kind: kind, options: options}
	s.exchanges[name] = ex

	s.logger.Debug("Exchange declared", zap.String("exchange", name), zap.String("kind", kind))
	return ex.info()
}

// CheckExchange returns topology.ErrNotFound if the exchange does not exist.
func (s *InMemoryStore) CheckExchange(name string) error {
	if _, exists := s.exchanges[name]; !exists {
		return fmt.Errorf("%w: exchange %q", topology.ErrNotFound, name)
	}
	return nil
}

// AssertQueue creates the queue if it does not exist yet.
func (s *InMemoryStore) AssertQueue(name string, options amqp.Table) topology.QueueInfo {
	if q, exists := s.queues[name]; exists {
		s.logger.Debug("Queue already exists", zap.String("queue", name))
		return q.info()
	}

	if options == nil {
		options = amqp.Table{}
	}
	q := &queue{name: name, options: options}
	s.queues[name] = q

	s.logger.Debug("Queue declared", zap.String("queue", name))
	return q.info()
}

// CheckQueue returns the queue or topology.ErrNotFound.
func (s *InMemoryStore) CheckQueue(name string) (topology.QueueInfo, error) {
	q, exists := s.queues[name]
	if !exists {
		return topology.QueueInfo{}, fmt.Errorf("%w: queue %q", topology.ErrNotFound, name)
	}
	return q.info(), nil
}

// DeleteQueue removes the queue immediately.
func (s *InMemoryStore) DeleteQueue(name string) bool {
	q, exists := s.queues[name]
	if !exists {
		return false
	}

	delete(s.queues, name)
	s.logger.Debug("Queue deleted",
		zap.String("queue", name),
		zap.Int("subscribers", len(q.subscribers)),
	)
	return true
}

// Bind appends a binding; the queue does not need to exist.
func (s *InMemoryStore) Bind(queueName, exchangeName, key string) error {
	ex, exists := s.exchanges[exchangeName]
	if !exists {
		return fmt.Errorf("%w: cannot bind queue %q to exchange %q", topology.ErrNoSuchExchange, queueName, exchangeName)
	}

	ex.bindings = append(ex.bindings, &binding{
		queue:   queueName,
		key:     key,
		matcher: s.compiler.Compile(key),
	})

	s.logger.Debug("Queue bound",
		zap.String("queue", queueName),
		zap.String("exchange", exchangeName),
		zap.String("key", key),
	)
	return nil
}

// Unbind removes the first binding with a matching key, whatever queue it targets.
func (s *InMemoryStore) Unbind(queueName, exchangeName, key string) bool {
	ex, exists := s.exchanges[exchangeName]
	if !exists {
		return false
	}

	for i, b := range ex.bindings {
		if b.key != key {
			continue
		}
		ex.bindings = append(ex.bindings[:i], ex.bindings[i+1:]...)
		s.logger.Debug("Queue unbound",
			zap.String("requested_queue", queueName),
			zap.String("removed_queue", b.queue),
			zap.String("exchange", exchangeName),
			zap.String("key", key),
		)
		return true
	}
	return false
}

// Consume registers a subscriber on an existing queue.
func (s *InMemoryStore) Consume(queueName string, handler message.Handler) (string, error) {
	q, exists := s.queues[queueName]
	if !exists {
		return "", fmt.Errorf("%w: cannot consume from queue %q", topology.ErrNoSuchQueue, queueName)
	}
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	tag, err := s.newTag()
	if err != nil {
		return "", err
	}

	q.subscribers = append(q.subscribers, topology.Subscriber{Tag: tag, Handler: handler})
	s.logger.Debug("Consumer registered", zap.String("queue", queueName), zap.String("consumer_tag", tag))
	return tag, nil
}

// Cancel scans queues in name order and removes the first subscriber with the tag.
func (s *InMemoryStore) Cancel(consumerTag string) bool {
	for _, name := range s.queueNames() {
		q := s.queues[name]
		for i, sub := range q.subscribers {
			if sub.Tag != consumerTag {
				continue
			}
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			s.logger.Debug("Consumer cancelled", zap.String("queue", name), zap.String("consumer_tag", consumerTag))
			return true
		}
	}
	return false
}

// Route matches routingKey against every binding of the exchange.
func (s *InMemoryStore) Route(exchangeName, routingKey string) ([]topology.Route, error) {
	ex, exists := s.exchanges[exchangeName]
	if !exists {
		return nil, fmt.Errorf("%w: cannot publish to exchange %q", topology.ErrNoSuchExchange, exchangeName)
	}

	var routes []topology.Route
	for _, b := range ex.bindings {
		if !b.matcher.Match(routingKey) {
			continue
		}

		var subscribers []topology.Subscriber
		if q, ok := s.queues[b.queue]; ok && len(q.subscribers) > 0 {
			// Copy so later consume/cancel calls do not alter this route
			subscribers = append([]topology.Subscriber(nil), q.subscribers...)
		}

		routes = append(routes, topology.Route{
			Binding:     topology.Binding{Exchange: exchangeName, Queue: b.queue, Key: b.key},
			Subscribers: subscribers,
		})
	}
	return routes, nil
}

// Snapshot returns a sorted copy of the registry.
func (s *InMemoryStore) Snapshot() topology.Snapshot {
	snap := topology.Snapshot{
		Exchanges: make([]topology.ExchangeInfo, 0, len(s.exchanges)),
		Queues:    make([]topology.QueueInfo, 0, len(s.queues)),
	}

	exchangeNames := make([]string, 0, len(s.exchanges))
	for name := range s.exchanges {
		exchangeNames = append(exchangeNames, name)
	}
	sort.Strings(exchangeNames)

	for _, name := range exchangeNames {
		ex := s.exchanges[name]
		snap.Exchanges = append(snap.Exchanges, ex.info())
		for _, b := range ex.bindings {
			snap.Bindings = append(snap.Bindings, topology.Binding{Exchange: name, Queue: b.queue, Key: b.key})
		}
	}

	for _, name := range s.queueNames() {
		snap.Queues = append(snap.Queues, s.queues[name].info())
	}
	return snap
}

// Reset removes all exchanges and queues.
func (s *InMemoryStore) Reset() {
	s.exchanges = make(map[string]*exchange)
	s.queues = make(map[string]*queue)
	s.compiler.Purge()
	s.logger.Debug("Topology reset")
}

func (s *InMemoryStore) newTag() (string, error) {
	for attempt := 0; attempt < maxTagAttempts; attempt++ {
		tag := s.tags.NewTag()
		if !s.tagInUse(tag) {
			return tag, nil
		}
		s.logger.Debug("Generated consumer tag already in use", zap.String("consumer_tag", tag))
	}
	return "", ErrTagExhausted
}

func (s *InMemoryStore) tagInUse(tag string) bool {
	for _, q := range s.queues {
		for _, sub := range q.subscribers {
			if sub.Tag == tag {
				return true
			}
		}
	}
	return false
}

func (s *InMemoryStore) queueNames() []string {
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ex *exchange) info() topology.ExchangeInfo {
	return topology.ExchangeInfo{Name: ex.name, Kind: ex.kind, Options: ex.options}
}

func (q *queue) info() topology.QueueInfo {
	return topology.QueueInfo{Name: q.name, Consumers: len(q.subscribers), Options: q.options}
}

// Verify that InMemoryStore implements the Store interface at compile time
var _ topology.Store = (*InMemoryStore)(nil)
