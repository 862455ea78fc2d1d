package cmd

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/opdev/chartpack/internal/bundle"
	"github.com/opdev/chartpack/internal/chart"
	"github.com/opdev/chartpack/internal/runtime"
	"github.com/opdev/chartpack/internal/viper"
	"github.com/opdev/chartpack/version"
)

func bundleCmd() *cobra.Command {
	bundleCmd := &cobra.Command{
		Use:     "bundle CHART",
		Short:   "Package a chart and its images into a transfer archive",
		Long:    "This command discovers every container image the chart references, pulls and saves each one, and packages the chart tree, the image archives, and a manifest into a single archive suitable for transfer into an air-gapped environment.",
		Args:    cobra.ExactArgs(1),
		Example: fmt.Sprintf("  %s", "chartpack bundle ./my-chart --output /tmp"),
		RunE:    bundleRunE,
	}

	flags := bundleCmd.Flags()

	viper := viper.Instance()
	flags.StringP("output", "o", runtime.DefaultOutputDir, "Directory the bundle archive is written to. (env: CHARTPACK_OUTPUT)")
	_ = viper.BindPFlag("output", flags.Lookup("output"))

	flags.Bool("no-images", false, "Produce a chart-and-manifest-only bundle without pulling images.")
	_ = viper.BindPFlag("no_images", flags.Lookup("no-images"))

	flags.Bool("include-signatures", false, "Record in the manifest that image signatures travel with the bundle.")
	_ = viper.BindPFlag("include_signatures", flags.Lookup("include-signatures"))

	flags.String("values", "", "Path to a YAML file of value overrides applied during rendering. (env: CHARTPACK_VALUES)")
	_ = viper.BindPFlag("values", flags.Lookup("values"))

	flags.StringP("docker-config", "d", "", "Path to docker config.json file. This value is optional for publicly accessible images.\n"+
		"However, it is strongly encouraged for public Docker Hub images,\n"+
		"due to the rate limit imposed for unauthenticated requests. (env: CHARTPACK_DOCKERCONFIG)")
	_ = viper.BindPFlag("dockerConfig", flags.Lookup("docker-config"))

	flags.String("platform", runtime.DefaultPlatform, "Architecture of images to pull.")
	_ = viper.BindPFlag("platform", flags.Lookup("platform"))

	flags.Bool("insecure", false, "Use insecure protocol for source registries. Default is False.")
	_ = viper.BindPFlag("insecure", flags.Lookup("insecure"))

	flags.Int("discovery-workers", runtime.DefaultDiscoveryWorkers, "Number of sub-charts discovered concurrently.")
	_ = viper.BindPFlag("discovery_workers", flags.Lookup("discovery-workers"))

	flags.Int("push-workers", runtime.DefaultPushWorkers, "Number of images pulled concurrently.")
	_ = viper.BindPFlag("push_workers", flags.Lookup("push-workers"))

	return bundleCmd
}

func bundleRunE(cmd *cobra.Command, args []string) error {
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
	cfg.ChartURI = args[0]

	inventory, _, err := discoverImages(ctx, cfg)
	if err != nil {
		return err
	}

	c, err := chart.Load(cfg.ChartURI)
	if err != nil {
		return err
	}

	workers := cfg.PushWorkers
	if workers <= 0 {
		workers = runtime.DefaultPushWorkers
	}

	assembler := bundle.NewAssembler(
		bundle.WithImageSaver(&bundle.CraneSaver{
			Platform:     cfg.Platform,
			DockerConfig: cfg.DockerConfig,
			Insecure:     cfg.Insecure,
		}),
		bundle.WithImageWorkers(workers),
	)

	result, err := assembler.Assemble(ctx, bundle.AssembleInput{
		Chart:             c,
		Inventory:         inventory,
		OutputDir:         cfg.OutputDir,
		SkipImages:        cfg.NoImages,
		IncludeSignatures: cfg.IncludeSigs,
	})
	if err != nil {
		return err
	}

	for _, failure := range result.PartialFailures {
		logger.Info("warning: image not bundled", "ref", failure.Reference, "error", failure.Error)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Bundle written to %s (%d images", result.ArchivePath, result.ImagesSaved)
	if n := len(result.PartialFailures); n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d unavailable", n)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ")")

	return nil
}
