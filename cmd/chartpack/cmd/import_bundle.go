package cmd

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/opdev/chartpack/internal/harbor"
	"github.com/opdev/chartpack/internal/imports"
	"github.com/opdev/chartpack/internal/runtime"
	"github.com/opdev/chartpack/internal/viper"
	"github.com/opdev/chartpack/version"
)

func importBundleCmd() *cobra.Command {
	importBundleCmd := &cobra.Command{
		Use:     "import-bundle BUNDLE",
		Short:   "Import a bundle archive into a Harbor registry",
		Long:    "This command unpacks a bundle archive, pushes every bundled image into the target Harbor project, rewrites the chart's image references to point at the target registry, and publishes the relocated chart as an OCI artifact.",
		Args:    cobra.ExactArgs(1),
		Example: fmt.Sprintf("  %s", "chartpack import-bundle my-chart-1.0.0.chartpack.tgz --harbor-url harbor.internal --project demo"),
		RunE:    importBundleRunE,
	}

	flags := importBundleCmd.Flags()

	viper := viper.Instance()
	addHarborFlags(importBundleCmd)

	flags.String("project", runtime.DefaultProject, "Harbor project images and the chart are published under. (env: CHARTPACK_PROJECT)")
	_ = viper.BindPFlag("project", flags.Lookup("project"))

	flags.StringP("docker-config", "d", "", "Path to docker config.json file. Used for registries the keychain must resolve. (env: CHARTPACK_DOCKERCONFIG)")
	_ = viper.BindPFlag("dockerConfig", flags.Lookup("docker-config"))

	flags.String("platform", runtime.DefaultPlatform, "Architecture of bundled images.")
	_ = viper.BindPFlag("platform", flags.Lookup("platform"))

	flags.Int("push-workers", runtime.DefaultPushWorkers, "Number of images pushed concurrently.")
	_ = viper.BindPFlag("push_workers", flags.Lookup("push-workers"))

	return importBundleCmd
}

// addHarborFlags registers the target-registry flags shared by import-bundle
// and test-harbor.
func addHarborFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	viper := viper.Instance()

	flags.String("harbor-url", "", "URL of the target Harbor instance. (env: CHARTPACK_HARBOR_URL)")
	_ = viper.BindPFlag("harbor_url", flags.Lookup("harbor-url"))

	flags.String("harbor-user", "", "Username for the target Harbor instance. (env: CHARTPACK_HARBOR_USER)")
	_ = viper.BindPFlag("harbor_user", flags.Lookup("harbor-user"))

	flags.String("harbor-password", "", "Password for the target Harbor instance. (env: CHARTPACK_HARBOR_PASSWORD)")
	_ = viper.BindPFlag("harbor_password", flags.Lookup("harbor-password"))

	flags.Bool("insecure", false, "Skip TLS verification for the target registry. Default is False.")
	_ = viper.BindPFlag("insecure", flags.Lookup("insecure"))
}

func importBundleRunE(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger, err := logr.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("invalid logging configuration")
	}
	logger.Info("chartpack version", "version", version.Version.String())

	cfg, err := runtime.NewConfigFrom(*viper.Instance())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.HarborURL == "" {
		return fmt.Errorf("a target registry is required: set --harbor-url")
	}

	// Verify the target answers before any mutation.
	client := harbor.NewHarborClient(cfg.HarborURL, cfg.HarborUser, cfg.HarborPassword,
		harbor.DefaultHTTPClient(cfg.Insecure))
	info, err := client.CheckHealth(ctx)
	if err != nil {
		return fmt.Errorf("target registry check failed: %w", err)
	}
	logger.Info("target registry reachable", "harborVersion", info.HarborVersion)

	host := registryHost(cfg.HarborURL)
	importer := imports.NewImporter(
		&imports.CraneRegistry{
			Host:         host,
			Username:     cfg.HarborUser,
			Password:     cfg.HarborPassword,
			Platform:     cfg.Platform,
			DockerConfig: cfg.DockerConfig,
			Insecure:     cfg.Insecure,
		},
		imports.WithPushWorkers(cfg.PushWorkers),
	)

	result, err := importer.Run(ctx, imports.Input{
		ArchivePath: args[0],
		Host:        host,
		Project:     cfg.Project,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s: %d images pushed, %d already present, chart published as %s\n",
		args[0], result.ImagesPushed, result.ImagesSkipped, result.ChartRef)

	return nil
}

// registryHost strips the scheme and trailing slash from a Harbor URL,
// leaving the host form used in image references.
func registryHost(harborURL string) string {
	host := harborURL
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	return strings.TrimSuffix(host, "/")
}
