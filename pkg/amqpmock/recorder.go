package amqpmock

import (
	"sync"

	"github.com/rmacdonaldsmith/amqpmock-go/pkg/message"
)

// DefaultRecorderBuffer is the channel capacity used by NewRecorder when a
// non-positive size is given.
const DefaultRecorderBuffer = 100

// Recorder is a message handler that keeps every message it receives.
//
// Messages are appended to an internal buffer and also offered to a channel
// without blocking, so a full channel never stalls the broker's loop.
type Recorder struct {
	mu       sync.Mutex
	messages []*message.Message
	received chan *message.Message
}

// NewRecorder creates a recorder whose channel holds up to buffer messages.
func NewRecorder(buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	return &Recorder{
		received: make(chan *message.Message, buffer),
	}
}

// Handle records msg. Pass it to Channel.Consume.
func (r *Recorder) Handle(msg *message.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	select {
	case r.received <- msg:
	default:
		// Channel full; the message is still in the buffer
	}
}

// Received returns the channel messages are offered to.
func (r *Recorder) Received() <-chan *message.Message {
	return r.received
}

// Messages returns a copy of every message recorded so far.
func (r *Recorder) Messages() []*message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*message.Message{}, r.messages...)
}

// Len returns the number of messages recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Bodies returns the content of every recorded message as strings.
func (r *Recorder) Bodies() []string {
	msgs := r.Messages()
	bodies := make([]string, len(msgs))
	for i, m := range msgs {
		bodies[i] = string(m.Content)
	}
	return bodies
}
