package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/opdev/chartpack/artifacts"
	"github.com/opdev/chartpack/internal/chart"
	"github.com/opdev/chartpack/internal/discover"
	"github.com/opdev/chartpack/internal/render"
	"github.com/opdev/chartpack/internal/runtime"
	"github.com/opdev/chartpack/internal/viper"
	"github.com/opdev/chartpack/version"
)

func analyzeCmd() *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:     "analyze CHART",
		Short:   "Discover every container image a chart references",
		Long:    "This command runs the image discovery engine against a chart and reports the merged image inventory with per-image provenance, without producing a bundle.",
		Args:    cobra.ExactArgs(1),
		Example: fmt.Sprintf("  %s", "chartpack analyze ./my-chart"),
		RunE:    analyzeRunE,
	}

	flags := analyzeCmd.Flags()

	viper := viper.Instance()
	flags.String("values", "", "Path to a YAML file of value overrides applied during rendering. (env: CHARTPACK_VALUES)")
	_ = viper.BindPFlag("values", flags.Lookup("values"))

	flags.Int("discovery-workers", runtime.DefaultDiscoveryWorkers, "Number of sub-charts discovered concurrently.")
	_ = viper.BindPFlag("discovery_workers", flags.Lookup("discovery-workers"))

	flags.String("artifacts", "", "Where the analysis report will be written. (env: CHARTPACK_ARTIFACTS)")
	_ = viper.BindPFlag("artifacts", flags.Lookup("artifacts"))

	return analyzeCmd
}

func analyzeRunE(cmd *cobra.Command, args []string) error {
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

	inventory, tree, err := discoverImages(ctx, cfg)
	if err != nil {
		return err
	}

	printTree(cmd, tree, 0)
	fmt.Fprintln(cmd.OutOrStdout())
	printInventory(cmd, inventory)

	if err := writeAnalysisReport(ctx, cfg, inventory, tree); err != nil {
		logger.Error(err, "unable to write analysis report")
	}

	return nil
}

// discoverImages loads the chart and runs the discovery engine. Shared by
// the analyze and bundle commands.
func discoverImages(ctx context.Context, cfg *runtime.Config) (*discover.Inventory, *discover.Node, error) {
	c, err := chart.Load(cfg.ChartURI)
	if err != nil {
		return nil, nil, err
	}

	values, err := loadValueOverrides(viper.Instance().GetString("values"))
	if err != nil {
		return nil, nil, err
	}

	workers := cfg.DiscoveryWorkers
	if workers <= 0 {
		workers = runtime.DefaultDiscoveryWorkers
	}

	discoverer := discover.NewDiscoverer(
		discover.WithRenderer(render.NewHelmRenderer()),
		discover.WithWorkers(workers),
	)
	return discoverer.Discover(ctx, c, values)
}

func printTree(cmd *cobra.Command, node *discover.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(cmd.OutOrStdout(), "%s%s@%s (%d images)\n", indent, node.Name, node.Version, node.Images)
	for _, child := range node.Children {
		printTree(cmd, child, depth+1)
	}
}

func printInventory(cmd *cobra.Command, inventory *discover.Inventory) {
	if inventory.Len() == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No images discovered.")
		return
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d images:\n", inventory.Len())
	for _, entry := range inventory.Entries() {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s (strategies: %s; charts: %s)\n",
			entry.Ref.Normalized(),
			strings.Join(entry.Strategies, ", "),
			strings.Join(entry.Charts, ", "))
	}
}

// analysisReport is the JSON artifact written after discovery.
type analysisReport struct {
	Chart  string           `json:"chart"`
	Images []discover.Entry `json:"images"`
	Tree   *discover.Node   `json:"tree"`
}

func writeAnalysisReport(ctx context.Context, cfg *runtime.Config, inventory *discover.Inventory, tree *discover.Node) error {
	writer := artifacts.WriterFromContext(ctx)
	if writer == nil {
		fsWriter, err := artifacts.NewFilesystemWriter(artifacts.WithDirectory(cfg.Artifacts))
		if err != nil {
			return err
		}
		writer = fsWriter
	}

	report := analysisReport{
		Chart:  cfg.ChartURI,
		Images: inventory.Entries(),
		Tree:   tree,
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	_, err = writer.WriteFile("analysis.json", bytes.NewReader(raw))
	return err
}

// loadValueOverrides reads the optional values file into a map.
func loadValueOverrides(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read values file: %w", err)
	}

	values := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("unable to parse values file: %w", err)
	}
	return values, nil
}
