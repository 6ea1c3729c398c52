package amqpmock

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/amqpmock-go/internal/config"
	"github.com/rmacdonaldsmith/amqpmock-go/internal/dispatch"
	"github.com/rmacdonaldsmith/amqpmock-go/internal/loop"
	"github.com/rmacdonaldsmith/amqpmock-go/internal/metrics"
	"github.com/rmacdonaldsmith/amqpmock-go/internal/pattern"
	"github.com/rmacdonaldsmith/amqpmock-go/internal/topology"
	pkgtopology "github.com/rmacdonaldsmith/amqpmock-go/pkg/topology"
)

// ErrClosed is returned by operations submitted after Broker.Close.
var ErrClosed = loop.ErrClosed

// Config configures a Broker.
type Config = config.Config

// NewConfig returns a configuration with default values.
func NewConfig() *Config {
	return config.NewConfig()
}

// LoadConfig reads configuration from an optional YAML file and AMQPMOCK_*
// environment variables.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithConfig sets the configuration. The default is NewConfig().
func WithConfig(cfg *Config) Option {
	return func(b *Broker) {
		b.cfg = cfg
	}
}

// WithRegistry registers the broker's metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(b *Broker) {
		b.registry = reg
	}
}

// Broker owns one topology of exchanges, queues and bindings. All
// connections and channels created from a Broker share it.
//
// Operations are executed one at a time on the broker's loop goroutine in the
// order they were submitted, and each returns a Future. Message handlers also
// run on the loop. They may submit further operations but must not wait on
// their futures.
type Broker struct {
	cfg      *Config
	logger   *zap.Logger
	registry *prometheus.Registry

	loop     *loop.Loop
	compiler *pattern.Compiler
	store    *topology.InMemoryStore
	engine   *dispatch.Engine
	channel  *Channel

	// Queues whose deletion waits for the next submitted operation.
	// Only touched on the loop.
	pendingDeletes []string
}

// New creates a Broker and starts its loop.
func New(opts ...Option) (*Broker, error) {
	b := &Broker{}
	for _, opt := range opts {
		opt(b)
	}

	if b.cfg == nil {
		b.cfg = NewConfig()
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.registry == nil {
		b.registry = prometheus.NewRegistry()
	}

	collector, err := metrics.NewCollector(b.registry)
	if err != nil {
		return nil, err
	}

	tags, err := topology.NewTagGenerator(b.cfg.Topology.TagStrategy, b.cfg.Topology.TagPrefix)
	if err != nil {
		return nil, err
	}

	b.compiler = pattern.NewCompiler(b.cfg.Topology.PatternCacheTTL, b.cfg.Topology.PatternCacheCapacity)
	b.compiler.Start()
	b.store = topology.NewInMemoryStore(b.compiler, tags, b.logger.Named("topology"))
	b.loop = loop.New(b.logger.Named("loop"))
	b.engine = dispatch.NewEngine(b.store, b.loop, collector, b.logger.Named("dispatch"))
	b.channel = &Channel{broker: b}

	b.logger.Info("Broker started",
		zap.String("tag_strategy", b.cfg.Topology.TagStrategy),
		zap.Duration("pattern_cache_ttl", b.cfg.Topology.PatternCacheTTL),
	)
	return b, nil
}

// Connect opens a connection. It always succeeds; the url is only recorded.
func (b *Broker) Connect(url string) *Future[*Connection] {
	return submit(b, func() (*Connection, error) {
		b.logger.Debug("Connection opened", zap.String("url", url))
		return &Connection{broker: b, url: url}, nil
	})
}

// Reset removes every exchange, queue, binding and subscriber.
func (b *Broker) Reset() *Future[struct{}] {
	return submitErr(b, func() error {
		b.store.Reset()
		return nil
	})
}

// Snapshot returns a copy of the current topology.
func (b *Broker) Snapshot() *Future[pkgtopology.Snapshot] {
	return submit(b, func() (pkgtopology.Snapshot, error) {
		return b.store.Snapshot(), nil
	})
}

// Flush waits until every submitted operation has run, including deliveries
// they scheduled. A queue deletion still waiting for a following operation is
// applied before Flush returns. It must not be called from a handler.
func (b *Broker) Flush(ctx context.Context) error {
	if err := b.loop.Idle(ctx); err != nil {
		return err
	}
	_, err := submitErr(b, func() error { return nil }).Wait(ctx)
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// deleteQueueAfterNext marks a queue for deletion by the next operation
// submitted after the current one.
func (b *Broker) deleteQueueAfterNext(name string) {
	b.pendingDeletes = append(b.pendingDeletes, name)
}

func (b *Broker) takePendingDeletes() []string {
	deletes := b.pendingDeletes
	b.pendingDeletes = nil
	return deletes
}

func (b *Broker) applyDeletes(names []string) {
	for _, name := range names {
		b.store.DeleteQueue(name)
	}
}

// Gatherer exposes the broker's metrics.
func (b *Broker) Gatherer() prometheus.Gatherer {
	return b.registry
}

// Close runs every operation already submitted, then stops the loop.
// Operations submitted afterwards fail with ErrClosed.
func (b *Broker) Close() error {
	err := multierr.Combine(
		b.loop.Close(),
		b.compiler.Close(),
	)
	b.logger.Info("Broker closed")
	return err
}
