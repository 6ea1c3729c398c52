// Package amqpmock provides an in-process stand-in for a topic-routing AMQP broker.
//
// This package defines the client-facing surface of the mock:
//   - Broker: owns one topology and the loop that executes every operation
//   - Connection: accept-everything connection shim
//   - Channel: exchange, queue, binding, publish and consume operations
//   - Future: the pending result of an operation
//   - Recorder: a handler that buffers deliveries for assertions
//
// Operations are queued on the broker's loop and run strictly in submission
// order. Publish resolves the matching subscribers in its own turn and invokes
// their handlers in a later turn. DeleteQueue takes effect once the next
// submitted operation has run, so a publish issued right after it still
// reaches the queue.
//
// Binding patterns follow topic-exchange syntax with one difference: "*"
// matches one or more word characters and "#" one or more word characters or
// dots. Both wildcards therefore need at least one character.
//
// Example usage:
//
//	broker, err := amqpmock.New()
//	if err != nil {
//		return err
//	}
//	defer broker.Close()
//
//	conn, _ := broker.Connect("amqp://localhost").Result()
//	ch, _ := conn.CreateChannel().Result()
//
//	ch.AssertExchange("events", amqp.ExchangeTopic, nil)
//	ch.AssertQueue("audit", nil)
//	ch.BindQueue("audit", "events", "orders.#", nil)
//
//	rec := amqpmock.NewRecorder(0)
//	if _, err := ch.Consume("audit", rec.Handle).Result(); err != nil {
//		return err
//	}
//
//	ch.Publish("events", "orders.created", []byte(`{"id":1}`), message.Properties{})
//	if err := broker.Flush(ctx); err != nil {
//		return err
//	}
//	fmt.Println(rec.Bodies()) // [{"id":1}]
package amqpmock
