package amqpmock

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/amqpmock-go/internal/topology"
	"github.com/rmacdonaldsmith/amqpmock-go/pkg/message"
	pkgtopology "github.com/rmacdonaldsmith/amqpmock-go/pkg/topology"
)

func newTestBroker(t *testing.T, opts ...Option) (*Broker, *Channel) {
	t.Helper()

	cfg := NewConfig().WithTagStrategy(topology.TagStrategyCounter)
	b, err := New(append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	conn, err := b.Connect("amqp://localhost").Result()
	require.NoError(t, err)
	ch, err := conn.CreateChannel().Result()
	require.NoError(t, err)

	return b, ch
}

func flush(t *testing.T, b *Broker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Flush(ctx))
}

func TestBroker_CheckExchange(t *testing.T) {
	_, ch := newTestBroker(t)

	err := ch.CheckExchange("events").Err()
	assert.ErrorIs(t, err, pkgtopology.ErrNotFound)

	name, err := ch.AssertExchange("events", amqp.ExchangeTopic, nil).Result()
	require.NoError(t, err)
	assert.Equal(t, "events", name)

	assert.NoError(t, ch.CheckExchange("events").Err())
}

func TestBroker_AssertExchangeTwiceKeepsFirstOptions(t *testing.T) {
	b, ch := newTestBroker(t)

	ch.AssertExchange("events", amqp.ExchangeTopic, amqp.Table{"durable": true})
	ch.AssertExchange("events", amqp.ExchangeTopic, amqp.Table{"durable": false})

	snap, err := b.Snapshot().Result()
	require.NoError(t, err)
	require.Len(t, snap.Exchanges, 1)
	assert.Equal(t, true, snap.Exchanges[0].Options["durable"])
}

func TestBroker_QueueLifecycle(t *testing.T) {
	_, ch := newTestBroker(t)

	_, err := ch.CheckQueue("orders").Result()
	assert.ErrorIs(t, err, pkgtopology.ErrNotFound)

	q, err := ch.AssertQueue("orders", nil).Result()
	require.NoError(t, err)
	assert.Equal(t, "orders", q.Name)
	assert.Equal(t, 0, q.Consumers)

	ch.Consume("orders", func(*message.Message) {})
	q, err = ch.CheckQueue("orders").Result()
	require.NoError(t, err)
	assert.Equal(t, 1, q.Consumers)
}

func TestBroker_PatternRouting(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		match   bool
	}{
		{"a.b.*", "a.b.c", true},
		{"a.b.*", "a.b.c.d", false},
		{"a.#", "a.b", true},
		{"a.#", "a.b.c.d", true},
		{"a.b.c", "a.b.c", true},
		{"a.b.c", "a.b.c.d", false},
		{"a.b.c", "a.bxc", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			b, ch := newTestBroker(t)
			rec := NewRecorder(0)

			ch.AssertExchange("x", amqp.ExchangeTopic, nil)
			ch.AssertQueue("q", nil)
			ch.BindQueue("q", "x", tt.pattern, nil)
			ch.Consume("q", rec.Handle)
			ch.Publish("x", tt.key, []byte("m"), message.Properties{})
			flush(t, b)

			if tt.match {
				assert.Equal(t, 1, rec.Len())
			} else {
				assert.Equal(t, 0, rec.Len())
			}
		})
	}
}

func TestBroker_FanOut(t *testing.T) {
	b, ch := newTestBroker(t)
	r1a, r1b, r2 := NewRecorder(0), NewRecorder(0), NewRecorder(0)

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("q1", nil)
	ch.AssertQueue("q2", nil)
	ch.BindQueue("q1", "x", "x.*", nil)
	ch.BindQueue("q2", "x", "x.#", nil)
	ch.Consume("q1", r1a.Handle)
	ch.Consume("q1", r1b.Handle)
	ch.Consume("q2", r2.Handle)

	n, err := ch.Publish("x", "x.y", []byte("hello"), message.Properties{}).Result()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	flush(t, b)

	for _, rec := range []*Recorder{r1a, r1b, r2} {
		assert.Equal(t, []string{"hello"}, rec.Bodies())
	}

	msg := r2.Messages()[0]
	assert.Equal(t, "x", msg.Fields.Exchange)
	assert.Equal(t, "x.y", msg.Fields.RoutingKey)
	assert.Equal(t, "amq.ctag-3", msg.Fields.ConsumerTag)
	assert.False(t, msg.Fields.Redelivered)
}

func TestBroker_DoubleBindingDeliversTwice(t *testing.T) {
	b, ch := newTestBroker(t)
	r1, r2 := NewRecorder(0), NewRecorder(0)

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("q", nil)
	ch.BindQueue("q", "x", "a.*", nil)
	ch.BindQueue("q", "x", "a.*", nil)
	ch.Consume("q", r1.Handle)
	ch.Consume("q", r2.Handle)
	ch.Publish("x", "a.b", []byte("m"), message.Properties{})
	flush(t, b)

	assert.Equal(t, 2, r1.Len())
	assert.Equal(t, 2, r2.Len())
}

func TestBroker_UnbindRemovesFirstMatchingBinding(t *testing.T) {
	b, ch := newTestBroker(t)
	rec1, rec2 := NewRecorder(0), NewRecorder(0)

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("q1", nil)
	ch.AssertQueue("q2", nil)
	ch.BindQueue("q1", "x", "a.*", nil)
	ch.BindQueue("q2", "x", "a.*", nil)
	ch.BindQueue("q1", "x", "a.#", nil)
	ch.Consume("q1", rec1.Handle)
	ch.Consume("q2", rec2.Handle)

	require.NoError(t, ch.UnbindQueue("q2", "x", "a.*", nil).Err())

	snap, err := b.Snapshot().Result()
	require.NoError(t, err)
	assert.Equal(t, []pkgtopology.Binding{
		{Exchange: "x", Queue: "q2", Key: "a.*"},
		{Exchange: "x", Queue: "q1", Key: "a.#"},
	}, snap.Bindings)

	ch.Publish("x", "a.b", nil, message.Properties{})
	flush(t, b)
	assert.Equal(t, 1, rec1.Len())
	assert.Equal(t, 1, rec2.Len())

	// Unbinding against missing targets is not an error
	assert.NoError(t, ch.UnbindQueue("q1", "missing", "a.*", nil).Err())
	assert.NoError(t, ch.UnbindQueue("q1", "x", "zzz", nil).Err())
}

func TestBroker_DeleteQueueThenPublishStillDelivers(t *testing.T) {
	b, ch := newTestBroker(t)
	rec := NewRecorder(0)

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("q", nil)
	ch.BindQueue("q", "x", "#", nil)
	require.NoError(t, ch.Consume("q", rec.Handle).Err())

	// Both submitted without waiting in between
	deleted := ch.DeleteQueue("q")
	published := ch.Publish("x", "k", []byte("last"), message.Properties{})

	require.NoError(t, deleted.Err())
	n, err := published.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	flush(t, b)

	assert.Equal(t, []string{"last"}, rec.Bodies())

	_, err = ch.CheckQueue("q").Result()
	assert.ErrorIs(t, err, pkgtopology.ErrNotFound)

	n, err = ch.Publish("x", "k", []byte("gone"), message.Properties{}).Result()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	flush(t, b)
	assert.Equal(t, 1, rec.Len())

	// Re-asserting the queue reconnects the surviving binding, without old consumers
	q, err := ch.AssertQueue("q", nil).Result()
	require.NoError(t, err)
	assert.Equal(t, 0, q.Consumers)
	rec2 := NewRecorder(0)
	ch.Consume("q", rec2.Handle)
	ch.Publish("x", "k", []byte("again"), message.Properties{})
	flush(t, b)
	assert.Equal(t, []string{"again"}, rec2.Bodies())
	assert.Equal(t, 1, rec.Len())
}

func TestBroker_DeleteQueueTakesEffectAfterNextOperation(t *testing.T) {
	tests := []struct {
		name  string
		delay func(t *testing.T, deleted *Future[struct{}])
	}{
		{
			name:  "yield before publish",
			delay: func(t *testing.T, deleted *Future[struct{}]) { runtime.Gosched() },
		},
		{
			name: "wait for delete before publish",
			delay: func(t *testing.T, deleted *Future[struct{}]) {
				require.NoError(t, deleted.Err())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ch := newTestBroker(t)
			ch.AssertExchange("x", amqp.ExchangeTopic, nil)

			const runs = 200
			missed := 0
			for i := 0; i < runs; i++ {
				queue := fmt.Sprintf("q%d", i)
				rec := NewRecorder(0)
				ch.AssertQueue(queue, nil)
				ch.BindQueue(queue, "x", queue, nil)
				require.NoError(t, ch.Consume(queue, rec.Handle).Err())

				deleted := ch.DeleteQueue(queue)
				tt.delay(t, deleted)
				n, err := ch.Publish("x", queue, []byte("last"), message.Properties{}).Result()
				require.NoError(t, err)
				flush(t, b)

				if n != 1 || rec.Len() != 1 {
					missed++
				}
				assert.ErrorIs(t, ch.CheckQueue(queue).Err(), pkgtopology.ErrNotFound)
			}
			assert.Zero(t, missed, "publish after DeleteQueue missed the queue in %d/%d runs", missed, runs)
		})
	}
}

func TestBroker_DeleteQueueOrdering(t *testing.T) {
	b, ch := newTestBroker(t)
	ch.AssertQueue("q", nil)

	// The operation right after DeleteQueue still sees the queue
	require.NoError(t, ch.DeleteQueue("q").Err())
	assert.NoError(t, ch.CheckQueue("q").Err())
	assert.ErrorIs(t, ch.CheckQueue("q").Err(), pkgtopology.ErrNotFound)

	// Flush applies a deletion that nothing followed
	ch.AssertQueue("r", nil)
	require.NoError(t, ch.DeleteQueue("r").Err())
	flush(t, b)
	snap, err := b.Snapshot().Result()
	require.NoError(t, err)
	assert.Empty(t, snap.Queues)

	// A failing operation still applies the deletion
	ch.AssertQueue("s", nil)
	ch.DeleteQueue("s")
	assert.ErrorIs(t, ch.CheckExchange("missing").Err(), pkgtopology.ErrNotFound)
	assert.ErrorIs(t, ch.CheckQueue("s").Err(), pkgtopology.ErrNotFound)
}

func TestBroker_Cancel(t *testing.T) {
	b, ch := newTestBroker(t)
	kept, cancelled := NewRecorder(0), NewRecorder(0)

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("q", nil)
	ch.BindQueue("q", "x", "#", nil)
	ch.Consume("q", kept.Handle)
	tag, err := ch.Consume("q", cancelled.Handle).Result()
	require.NoError(t, err)

	require.NoError(t, ch.Cancel(tag).Err())
	assert.NoError(t, ch.Cancel("unknown").Err())

	ch.Publish("x", "k", []byte("m"), message.Properties{})
	flush(t, b)

	assert.Equal(t, 1, kept.Len())
	assert.Equal(t, 0, cancelled.Len())
}

func TestBroker_PublishToBoundMissingQueue(t *testing.T) {
	b, ch := newTestBroker(t)

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.BindQueue("ghost", "x", "#", nil)

	n, err := ch.Publish("x", "k", []byte("m"), message.Properties{}).Result()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	flush(t, b)
}

func TestBroker_PublishAndBindRequireExchange(t *testing.T) {
	_, ch := newTestBroker(t)

	_, err := ch.Publish("missing", "k", nil, message.Properties{}).Result()
	assert.ErrorIs(t, err, pkgtopology.ErrNoSuchExchange)

	err = ch.BindQueue("q", "missing", "#", nil).Err()
	assert.ErrorIs(t, err, pkgtopology.ErrNoSuchExchange)
}

func TestBroker_ConsumeUnassertedQueue(t *testing.T) {
	b, ch := newTestBroker(t)

	_, err := ch.Consume("missing", func(*message.Message) {}).Result()
	assert.ErrorIs(t, err, pkgtopology.ErrNoSuchQueue)

	snap, err := b.Snapshot().Result()
	require.NoError(t, err)
	assert.Empty(t, snap.Queues)
}

func TestBroker_HandlerCanSubmitOperations(t *testing.T) {
	b, ch := newTestBroker(t)
	final := NewRecorder(0)

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("step1", nil)
	ch.AssertQueue("step2", nil)
	ch.BindQueue("step1", "x", "one", nil)
	ch.BindQueue("step2", "x", "two", nil)
	ch.Consume("step1", func(msg *message.Message) {
		// Fire and forget; waiting here would block the loop
		ch.Publish("x", "two", append(msg.Content, '!'), message.Properties{})
	})
	ch.Consume("step2", final.Handle)

	ch.Publish("x", "one", []byte("hop"), message.Properties{})
	flush(t, b)

	assert.Equal(t, []string{"hop!"}, final.Bodies())
}

func TestBroker_ChannelsShareTopology(t *testing.T) {
	b, ch1 := newTestBroker(t)

	conn, err := b.Connect("amqp://other").Result()
	require.NoError(t, err)
	ch2, err := conn.CreateConfirmChannel().Result()
	require.NoError(t, err)

	assert.Same(t, ch1, ch2)
	assert.Equal(t, "amqp://other", conn.URL())

	ch1.AssertExchange("x", amqp.ExchangeTopic, nil)
	assert.NoError(t, ch2.CheckExchange("x").Err())

	assert.NoError(t, conn.Close().Err())
	assert.NoError(t, ch2.Close().Err())
	assert.NoError(t, ch1.CheckExchange("x").Err(), "closing does not tear down the topology")
}

func TestBroker_NoOpOperations(t *testing.T) {
	b, ch := newTestBroker(t)
	conn, err := b.Connect("amqp://localhost").Result()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		conn.On("error", func(error) {})
		conn.Once("close", func(error) {})
		ch.On("error", func(error) {})
		ch.Once("close", func(error) {})
		ch.SetMaxListeners(0)
		ch.Prefetch(10)
		ch.Ack(nil, false)
		ch.Nack(nil, false, true)
	})
}

func TestBroker_PublishMsgAndDeliveryHandler(t *testing.T) {
	b, ch := newTestBroker(t)

	var got []amqp.Delivery
	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("q", nil)
	ch.BindQueue("q", "x", "#", nil)
	ch.Consume("q", message.DeliveryHandler(func(d amqp.Delivery) {
		got = append(got, d)
		_ = d.Ack(false)
	}))

	ch.PublishMsg("x", "orders.created", amqp.Publishing{
		ContentType: "application/json",
		Headers:     amqp.Table{"x-trace": "abc"},
		Body:        []byte(`{"id":1}`),
	})
	flush(t, b)

	require.Len(t, got, 1)
	assert.Equal(t, "application/json", got[0].ContentType)
	assert.Equal(t, "abc", got[0].Headers["x-trace"])
	assert.Equal(t, `{"id":1}`, string(got[0].Body))
	assert.Equal(t, uint64(1), got[0].DeliveryTag)
}

func TestBroker_Reset(t *testing.T) {
	b, ch := newTestBroker(t)
	rec := NewRecorder(0)

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("q", nil)
	ch.BindQueue("q", "x", "#", nil)
	ch.Consume("q", rec.Handle)

	require.NoError(t, b.Reset().Err())

	snap, err := b.Snapshot().Result()
	require.NoError(t, err)
	assert.Empty(t, snap.Exchanges)
	assert.Empty(t, snap.Queues)

	_, err = ch.Publish("x", "k", nil, message.Properties{}).Result()
	assert.ErrorIs(t, err, pkgtopology.ErrNoSuchExchange)
}

func TestBroker_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	b, ch := newTestBroker(t, WithRegistry(reg))
	assert.Equal(t, prometheus.Gatherer(reg), b.Gatherer())

	ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	ch.AssertQueue("q", nil)
	ch.BindQueue("q", "x", "a.*", nil)
	ch.Consume("q", func(*message.Message) {})
	ch.Consume("q", func(*message.Message) { panic("boom") })

	ch.Publish("x", "a.b", nil, message.Properties{})
	ch.Publish("x", "nomatch", nil, message.Properties{})
	flush(t, b)

	expected := `
# HELP amqpmock_messages_published_total Total number of messages published, by exchange
# TYPE amqpmock_messages_published_total counter
amqpmock_messages_published_total{exchange="x"} 2
# HELP amqpmock_messages_unroutable_total Total number of published messages that matched no binding
# TYPE amqpmock_messages_unroutable_total counter
amqpmock_messages_unroutable_total{exchange="x"} 1
# HELP amqpmock_messages_routed_total Total number of binding matches, by exchange and target queue
# TYPE amqpmock_messages_routed_total counter
amqpmock_messages_routed_total{exchange="x",queue="q"} 1
# HELP amqpmock_messages_delivered_total Total number of handler invocations, by queue
# TYPE amqpmock_messages_delivered_total counter
amqpmock_messages_delivered_total{queue="q"} 2
# HELP amqpmock_handler_panics_total Total number of recovered handler panics, by queue
# TYPE amqpmock_handler_panics_total counter
amqpmock_handler_panics_total{queue="q"} 1
`
	err := testutil.GatherAndCompare(b.Gatherer(), strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestBroker_Close(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	conn, err := b.Connect("amqp://localhost").Result()
	require.NoError(t, err)
	ch, err := conn.CreateChannel().Result()
	require.NoError(t, err)

	// Submitted before Close, so it still runs
	pending := ch.AssertExchange("x", amqp.ExchangeTopic, nil)
	require.NoError(t, b.Close())

	name, err := pending.Result()
	require.NoError(t, err)
	assert.Equal(t, "x", name)

	assert.ErrorIs(t, ch.CheckExchange("x").Err(), ErrClosed)
	_, err = b.Connect("amqp://localhost").Result()
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, b.Flush(context.Background()))
	assert.NoError(t, b.Close(), "Close is idempotent")
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(WithConfig(NewConfig().WithTagStrategy("random")))
	assert.Error(t, err)
}

func TestNew_UUIDTags(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	ch := b.channel
	ch.AssertQueue("q", nil)
	tag, err := ch.Consume("q", func(*message.Message) {}).Result()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tag, "amq.ctag-"))
	assert.Len(t, tag, len("amq.ctag-")+36)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("AMQPMOCK_TOPOLOGY_TAG_STRATEGY", "counter")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, topology.TagStrategyCounter, cfg.Topology.TagStrategy)
}
