package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"
	"gopkg.in/yaml.v3"
)

// Scenario is a topology plus a list of messages to publish through it
type Scenario struct {
	Exchanges []ExchangeSpec `yaml:"exchanges"`
	Queues    []QueueSpec    `yaml:"queues"`
	Bindings  []BindingSpec  `yaml:"bindings"`
	Consumers []ConsumerSpec `yaml:"consumers"`
	Publishes []PublishSpec  `yaml:"publishes"`
}

type ExchangeSpec struct {
	Name    string     `yaml:"name"`
	Kind    string     `yaml:"kind"`
	Options amqp.Table `yaml:"options"`
}

type QueueSpec struct {
	Name    string     `yaml:"name"`
	Options amqp.Table `yaml:"options"`
}

type BindingSpec struct {
	Queue    string `yaml:"queue"`
	Exchange string `yaml:"exchange"`
	Pattern  string `yaml:"pattern"`
}

// ConsumerSpec subscribes to a queue; Name labels its deliveries in the output
type ConsumerSpec struct {
	Queue string `yaml:"queue"`
	Name  string `yaml:"name"`
}

type PublishSpec struct {
	Exchange    string     `yaml:"exchange"`
	RoutingKey  string     `yaml:"routing_key"`
	Body        string     `yaml:"body"`
	ContentType string     `yaml:"content_type"`
	Headers     amqp.Table `yaml:"headers"`
}

// loadScenario decodes a scenario file, rejecting unknown fields
func loadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	var s Scenario
	if err := decoder.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every entry names what it refers to
func (s *Scenario) Validate() error {
	for i, e := range s.Exchanges {
		if e.Name == "" {
			return fmt.Errorf("exchanges[%d]: name is required", i)
		}
	}
	for i, q := range s.Queues {
		if q.Name == "" {
			return fmt.Errorf("queues[%d]: name is required", i)
		}
	}
	for i, b := range s.Bindings {
		if b.Queue == "" || b.Exchange == "" {
			return fmt.Errorf("bindings[%d]: queue and exchange are required", i)
		}
	}
	for i, c := range s.Consumers {
		if c.Queue == "" {
			return fmt.Errorf("consumers[%d]: queue is required", i)
		}
	}
	for i, p := range s.Publishes {
		if p.Exchange == "" {
			return fmt.Errorf("publishes[%d]: exchange is required", i)
		}
	}
	return nil
}
