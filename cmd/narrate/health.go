package main

import (
	"fmt"

	"github.com/book-expert/narration-service/internal/synthesis"
	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the synthesis service is reachable",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
}

// runHealth only talks to the synthesis API, so it needs neither NATS nor
// the rate limiter.
func runHealth(cmd *cobra.Command, _ []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	client := synthesis.NewHTTPClient(env.cfg.Synthesis.BaseURL, env.cfg.Synthesis.ResolveAPIKey(), healthCheckTimeout)

	err = client.HealthCheck(cmd.Context())
	if err != nil {
		env.log.Error("Health check failed: %v", err)

		return fmt.Errorf("synthesis service is not healthy: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Synthesis service is healthy")

	return nil
}
