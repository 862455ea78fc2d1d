package cmd

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/opdev/chartpack/internal/harbor"
	"github.com/opdev/chartpack/internal/runtime"
	"github.com/opdev/chartpack/internal/viper"
)

func testHarborCmd() *cobra.Command {
	testHarborCmd := &cobra.Command{
		Use:     "test-harbor",
		Short:   "Verify connectivity and credentials for a Harbor instance",
		Long:    "This command probes the target Harbor instance's API and, when credentials are supplied, verifies that they authenticate. Run it before an import to catch configuration problems early.",
		Args:    cobra.NoArgs,
		Example: fmt.Sprintf("  %s", "chartpack test-harbor --harbor-url harbor.internal --harbor-user admin"),
		RunE:    testHarborRunE,
	}

	addHarborFlags(testHarborCmd)

	return testHarborCmd
}

func testHarborRunE(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("invalid logging configuration")
	}

	cfg, err := runtime.NewConfigFrom(*viper.Instance())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.HarborURL == "" {
		return fmt.Errorf("a target registry is required: set --harbor-url")
	}

	client := harbor.NewHarborClient(cfg.HarborURL, cfg.HarborUser, cfg.HarborPassword,
		harbor.DefaultHTTPClient(cfg.Insecure))

	info, err := client.CheckHealth(ctx)
	if err != nil {
		return err
	}

	logger.Info("harbor instance reachable", "version", info.HarborVersion)
	fmt.Fprintf(cmd.OutOrStdout(), "Harbor %s at %s is reachable", info.HarborVersion, cfg.HarborURL)
	if cfg.HarborUser != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "; credentials for %q accepted", cfg.HarborUser)
	}
	fmt.Fprintln(cmd.OutOrStdout())

	return nil
}
