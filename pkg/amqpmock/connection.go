package amqpmock

import "go.uber.org/zap"

// Connection is an accept-everything stand-in for a broker connection.
type Connection struct {
	broker *Broker
	url    string
}

// URL returns the address passed to Connect.
func (c *Connection) URL() string {
	return c.url
}

// CreateChannel returns the broker's channel. Every channel of a broker
// shares one topology, so all calls return the same Channel.
func (c *Connection) CreateChannel() *Future[*Channel] {
	return submit(c.broker, func() (*Channel, error) {
		return c.broker.channel, nil
	})
}

// CreateConfirmChannel is CreateChannel; publisher confirms are not modelled.
func (c *Connection) CreateConfirmChannel() *Future[*Channel] {
	return c.CreateChannel()
}

// On registers an event listener. Connections never emit events.
func (c *Connection) On(event string, listener func(error)) {}

// Once registers a one-shot event listener. Connections never emit events.
func (c *Connection) Once(event string, listener func(error)) {}

// Close resolves immediately. The broker and its topology stay alive.
func (c *Connection) Close() *Future[struct{}] {
	c.broker.logger.Debug("Connection closed", zap.String("url", c.url))
	return resolvedFuture(struct{}{}, nil)
}
