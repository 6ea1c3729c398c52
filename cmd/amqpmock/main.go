package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/amqpmock-go/internal/logger"
	"github.com/rmacdonaldsmith/amqpmock-go/pkg/amqpmock"
)

var (
	// Global flags
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "amqpmock",
		Short: "In-process topic broker for exercising AMQP routing",
		Long: `amqpmock runs an in-process model of a topic-routing AMQP broker.
It can replay a YAML scenario of exchanges, queues, bindings, consumers and
publishes, and check binding patterns against routing keys.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newMatchCommand())

	return rootCmd
}

// loadBroker builds a broker from the global configuration flags
func loadBroker() (*amqpmock.Broker, *zap.Logger, error) {
	cfg, err := amqpmock.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.WithLogLevel(logLevel)
	}
	// Keep stdout for command output
	if cfg.Logger.OutputPath == "stdout" {
		cfg.Logger.OutputPath = "stderr"
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}

	broker, err := amqpmock.New(amqpmock.WithConfig(cfg), amqpmock.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create broker: %w", err)
	}
	return broker, log, nil
}
