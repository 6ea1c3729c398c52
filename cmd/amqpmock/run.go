package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/amqpmock-go/pkg/message"
)

func newRunCommand() *cobra.Command {
	var (
		scenarioPath string
		showMetrics  bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a YAML scenario and print every delivery",
		Long: `Replay a YAML scenario against a fresh broker. Exchanges, queues,
bindings and consumers are set up in that order, then each publish is sent.
Every delivery is printed as "<consumer> <- <exchange> <routing key>: <body>".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runScenario(ctx, cmd.OutOrStdout(), scenarioPath, showMetrics)
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario file to replay (required)")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print broker counters after the run")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Maximum time to wait for the scenario")
	if err := cmd.MarkFlagRequired("scenario"); err != nil {
		panic(fmt.Sprintf("Failed to mark scenario as required: %v", err))
	}

	return cmd
}

func runScenario(ctx context.Context, out io.Writer, path string, showMetrics bool) error {
	scenario, err := loadScenario(path)
	if err != nil {
		return err
	}

	broker, log, err := loadBroker()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer broker.Close()

	conn, err := broker.Connect("amqp://localhost").Wait(ctx)
	if err != nil {
		return err
	}
	ch, err := conn.CreateChannel().Wait(ctx)
	if err != nil {
		return err
	}

	for _, e := range scenario.Exchanges {
		kind := e.Kind
		if kind == "" {
			kind = amqp.ExchangeTopic
		}
		if _, err := ch.AssertExchange(e.Name, kind, e.Options).Wait(ctx); err != nil {
			return fmt.Errorf("failed to assert exchange %s: %w", e.Name, err)
		}
	}

	for _, q := range scenario.Queues {
		if _, err := ch.AssertQueue(q.Name, q.Options).Wait(ctx); err != nil {
			return fmt.Errorf("failed to assert queue %s: %w", q.Name, err)
		}
	}

	for _, b := range scenario.Bindings {
		if _, err := ch.BindQueue(b.Queue, b.Exchange, b.Pattern, nil).Wait(ctx); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", b.Queue, b.Exchange, err)
		}
	}

	for i, c := range scenario.Consumers {
		label := c.Name
		if label == "" {
			label = fmt.Sprintf("%s#%d", c.Queue, i)
		}
		// Handlers run on the broker loop, one at a time
		handler := func(msg *message.Message) {
			fmt.Fprintf(out, "%s <- %s %s: %s\n", label, msg.Fields.Exchange, msg.Fields.RoutingKey, msg.Content)
		}
		tag, err := ch.Consume(c.Queue, handler).Wait(ctx)
		if err != nil {
			return fmt.Errorf("failed to consume from %s: %w", c.Queue, err)
		}
		log.Debug("Scenario consumer registered", zap.String("consumer", label), zap.String("consumer_tag", tag))
	}

	deliveries := 0
	for i, p := range scenario.Publishes {
		props := message.Properties{ContentType: p.ContentType, Headers: p.Headers}
		n, err := ch.Publish(p.Exchange, p.RoutingKey, []byte(p.Body), props).Wait(ctx)
		if err != nil {
			return fmt.Errorf("publishes[%d]: %w", i, err)
		}
		deliveries += n
	}

	if err := broker.Flush(ctx); err != nil {
		return fmt.Errorf("failed waiting for deliveries: %w", err)
	}

	fmt.Fprintf(out, "Published %d message(s), %d delivery(ies)\n", len(scenario.Publishes), deliveries)

	if showMetrics {
		return printMetrics(out, broker.Gatherer())
	}
	return nil
}

// printMetrics writes every metric family in the Prometheus text format
func printMetrics(out io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(out, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		return closer.Close()
	}
	return nil
}
