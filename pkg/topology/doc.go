// Package topology defines the exchange/queue/binding registry of the mock broker.
//
// This package defines the core abstractions for the topology component:
//   - Store: the registry of exchanges, queues, bindings and subscribers
//   - Route: one matching binding and the subscribers it resolves to
//   - Snapshot: a point-in-time copy of the registry for inspection
//
// Exchanges own an ordered list of bindings. A binding names its target queue
// and is resolved by name at routing time, so a binding may outlive its queue
// and a re-asserted queue picks up existing bindings again.
//
// Existence rules are deliberately asymmetric:
//   - CheckExchange, CheckQueue, Bind, Consume and Route fail on a missing target
//   - Unbind, Cancel and DeleteQueue on a missing target are silent no-ops
//   - a route that reaches no subscriber is not an error
//
// Example usage:
//
//	store.AssertExchange("events", amqp.ExchangeTopic, nil)
//	store.AssertQueue("audit", nil)
//	if err := store.Bind("audit", "events", "orders.#"); err != nil {
//		return err
//	}
//	tag, err := store.Consume("audit", handler)
//	if err != nil {
//		return err
//	}
//
//	routes, err := store.Route("events", "orders.created")
//	if err != nil {
//		return err
//	}
//	for _, r := range routes {
//		for _, sub := range r.Subscribers {
//			sub.Handler(msg.WithDelivery(sub.Tag, nextTag()))
//		}
//	}
//
// A Store is not safe for concurrent use; the broker confines it to its task loop.
package topology
