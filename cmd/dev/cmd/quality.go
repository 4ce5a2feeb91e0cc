package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// check wraps one devtool quality gate as a command.
func check(use, short string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return check("test", "Run unit tests, the simulated link needs no hardware", test.Test)
}

func LintCmd() *cobra.Command {
	return check("lint", "Run linters", test.Lint)
}

// IntegrationTestCmd runs the tests that talk to a real sensor.
func IntegrationTestCmd() *cobra.Command {
	return check("integration-test", "Run integration tests against attached hardware", test.Integ)
}
