// Package message defines the transient message routed from an exchange to
// its subscribers, and its conversion to the amqp091-go delivery type.
//
// A Message exists only for the duration of one dispatch pass. Content and
// headers are copied when the message is created, so a publisher may reuse its
// buffers as soon as Publish returns.
package message

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Fields describe how a message reached the subscriber.
type Fields struct {
	// ConsumerTag identifies the subscriber the message was delivered to
	ConsumerTag string

	// DeliveryTag is a broker-wide sequence number assigned per delivery
	DeliveryTag uint64

	// Redelivered is always false; redelivery is not modelled
	Redelivered bool

	// Exchange is the exchange the message was published to
	Exchange string

	// RoutingKey is the routing key used at publish time
	RoutingKey string
}

// Properties are the caller-supplied message properties. They are carried
// through routing untouched.
type Properties struct {
	Headers         amqp.Table
	ContentType     string
	ContentEncoding string
	DeliveryMode    uint8
	Priority        uint8
	CorrelationId   string
	ReplyTo         string
	Expiration      string
	MessageId       string
	Timestamp       time.Time
	Type            string
	UserId          string
	AppId           string
}

// Message is a single routed message.
type Message struct {
	Fields     Fields
	Properties Properties
	Content    []byte
}

// Handler receives delivered messages.
type Handler func(msg *Message)

// New creates a Message published to exchange under routingKey.
// The content and headers are copied to prevent external mutation.
func New(exchange, routingKey string, content []byte, props Properties) *Message {
	var contentCopy []byte
	if content != nil {
		contentCopy = make([]byte, len(content))
		copy(contentCopy, content)
	}
	props.Headers = copyTable(props.Headers)

	return &Message{
		Fields: Fields{
			Exchange:   exchange,
			RoutingKey: routingKey,
		},
		Properties: props,
		Content:    contentCopy,
	}
}

// FromPublishing splits an amqp091-go Publishing into properties and content.
func FromPublishing(p amqp.Publishing) (Properties, []byte) {
	return Properties{
		Headers:         p.Headers,
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationId:   p.CorrelationId,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageId:       p.MessageId,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserId:          p.UserId,
		AppId:           p.AppId,
	}, p.Body
}

// WithDelivery returns a copy of the message addressed to one subscriber.
// Content and headers are shared with the receiver.
func (m *Message) WithDelivery(consumerTag string, deliveryTag uint64) *Message {
	fields := m.Fields
	fields.ConsumerTag = consumerTag
	fields.DeliveryTag = deliveryTag

	return &Message{
		Fields:     fields,
		Properties: m.Properties,
		Content:    m.Content,
	}
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	cp := New(m.Fields.Exchange, m.Fields.RoutingKey, m.Content, m.Properties)
	cp.Fields = m.Fields
	return cp
}

// Delivery converts the message into an amqp091-go Delivery, so handlers
// written against a real AMQP consumer can be driven unchanged. Ack, Nack and
// Reject on the returned delivery succeed without effect.
func (m *Message) Delivery() amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:    noopAcknowledger{},
		Headers:         copyTable(m.Properties.Headers),
		ContentType:     m.Properties.ContentType,
		ContentEncoding: m.Properties.ContentEncoding,
		DeliveryMode:    m.Properties.DeliveryMode,
		Priority:        m.Properties.Priority,
		CorrelationId:   m.Properties.CorrelationId,
		ReplyTo:         m.Properties.ReplyTo,
		Expiration:      m.Properties.Expiration,
		MessageId:       m.Properties.MessageId,
		Timestamp:       m.Properties.Timestamp,
		Type:            m.Properties.Type,
		UserId:          m.Properties.UserId,
		AppId:           m.Properties.AppId,
		ConsumerTag:     m.Fields.ConsumerTag,
		DeliveryTag:     m.Fields.DeliveryTag,
		Redelivered:     m.Fields.Redelivered,
		Exchange:        m.Fields.Exchange,
		RoutingKey:      m.Fields.RoutingKey,
		Body:            m.Content,
	}
}

// DeliveryHandler adapts a handler written for amqp091-go deliveries.
func DeliveryHandler(fn func(amqp.Delivery)) Handler {
	return func(msg *Message) {
		fn(msg.Delivery())
	}
}

func copyTable(t amqp.Table) amqp.Table {
	if t == nil {
		return nil
	}
	cp := make(amqp.Table, len(t))
	for k, v := range t {
		cp[k] = v
	}
	return cp
}

type noopAcknowledger struct{}

func (noopAcknowledger) Ack(tag uint64, multiple bool) error          { return nil }
func (noopAcknowledger) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (noopAcknowledger) Reject(tag uint64, requeue bool) error         { return nil }

var _ amqp.Acknowledger = noopAcknowledger{}
