package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/amqpmock-go/internal/pattern"
)

func newMatchCommand() *cobra.Command {
	var bindingKey string

	cmd := &cobra.Command{
		Use:   "match --pattern PATTERN KEY...",
		Short: "Check routing keys against a binding pattern",
		Long: `Check each routing key against a binding pattern and print whether it
matches. "*" matches one or more word characters, "#" one or more word
characters or dots, and everything else matches literally.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd.OutOrStdout(), bindingKey, args)
		},
	}

	cmd.Flags().StringVar(&bindingKey, "pattern", "", "Binding pattern (required)")
	if err := cmd.MarkFlagRequired("pattern"); err != nil {
		panic(fmt.Sprintf("Failed to mark pattern as required: %v", err))
	}

	return cmd
}

func runMatch(out io.Writer, bindingKey string, keys []string) error {
	m := pattern.Compile(bindingKey)
	for _, key := range keys {
		fmt.Fprintf(out, "%s\t%t\n", key, m.Match(key))
	}
	return nil
}
