package topology

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const (
	// TagStrategyUUID generates random consumer tags.
	TagStrategyUUID = "uuid"
	// TagStrategyCounter generates sequential consumer tags.
	TagStrategyCounter = "counter"

	// DefaultTagPrefix mirrors the prefix RabbitMQ uses for server-generated tags.
	DefaultTagPrefix = "amq.ctag-"
)

// TagGenerator produces consumer tags. Uniqueness against live tags is checked
// by the store, so generators only need to make collisions unlikely.
type TagGenerator interface {
	NewTag() string
}

// UUIDTagGenerator produces prefix + random UUID tags.
type UUIDTagGenerator struct {
	prefix string
}

// NewTag implements TagGenerator.
func (g *UUIDTagGenerator) NewTag() string {
	return g.prefix + uuid.NewString()
}

// CounterTagGenerator produces prefix + 1, prefix + 2, ... tags.
// It is not safe for concurrent use.
type CounterTagGenerator struct {
	prefix string
	next   uint64
}

// NewTag implements TagGenerator.
func (g *CounterTagGenerator) NewTag() string {
	g.next++
	return g.prefix + strconv.FormatUint(g.next, 10)
}

// NewTagGenerator returns the generator for strategy.
func NewTagGenerator(strategy, prefix string) (TagGenerator, error) {
	switch strategy {
	case TagStrategyUUID, "":
		return &UUIDTagGenerator{prefix: prefix}, nil
	case TagStrategyCounter:
		return &CounterTagGenerator{prefix: prefix}, nil
	default:
		return nil, fmt.Errorf("unsupported tag strategy: %s", strategy)
	}
}
