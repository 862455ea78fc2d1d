package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opdev/chartpack/internal/bundle"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "info BUNDLE",
		Short:   "Inspect a bundle archive without importing it",
		Long:    "This command extracts a bundle's manifest and prints the chart identity, the image inventory with provenance, and any images the assembly could not materialize.",
		Args:    cobra.ExactArgs(1),
		Example: fmt.Sprintf("  %s", "chartpack info my-chart-1.0.0.chartpack.tgz"),
		RunE:    infoRunE,
	}
}

func infoRunE(cmd *cobra.Command, args []string) error {
	workDir, err := os.MkdirTemp("", "chartpack-info-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	bundleDir, err := bundle.Extract(args[0], workDir)
	if err != nil {
		return err
	}
	manifest, err := bundle.LoadManifest(bundleDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Chart:     %s\n", manifest.Metadata.Name)
	fmt.Fprintf(out, "Version:   %s\n", manifest.Metadata.Version)
	fmt.Fprintf(out, "Generated: %s by %s\n", manifest.Metadata.GeneratedAt, manifest.Metadata.GeneratedBy)
	fmt.Fprintf(out, "Images:    %d (materialized: %t)\n", manifest.Metadata.TotalImages, manifest.Metadata.IncludesImages)

	if size := imageArchiveSize(bundleDir, manifest); size > 0 {
		fmt.Fprintf(out, "Size:      %.1f MiB of image archives\n", float64(size)/(1<<20))
	}

	printDependencies(cmd, manifest.Chart, 0)

	if len(manifest.Images) > 0 {
		fmt.Fprintln(out)
		listed := manifest.Images
		if len(listed) > maxListedImages {
			listed = listed[:maxListedImages]
		}
		for _, record := range listed {
			fmt.Fprintf(out, "  %s (strategies: %s)\n", record.Normalized, strings.Join(record.Strategies, ", "))
		}
		if remaining := len(manifest.Images) - len(listed); remaining > 0 {
			fmt.Fprintf(out, "  ... and %d more\n", remaining)
		}
	}

	if len(manifest.PartialFailures) > 0 {
		fmt.Fprintf(out, "\n%d images could not be bundled:\n", len(manifest.PartialFailures))
		for _, failure := range manifest.PartialFailures {
			fmt.Fprintf(out, "  %s: %s\n", failure.Reference, failure.Error)
		}
	}

	return nil
}

// maxListedImages caps the printed inventory. The full list stays in the
// manifest itself.
const maxListedImages = 25

// imageArchiveSize totals the saved image tarballs recorded in the
// manifest. Records without an archive contribute nothing.
func imageArchiveSize(bundleDir string, manifest *bundle.Manifest) int64 {
	var total int64
	for _, record := range manifest.Images {
		if record.Archive == "" {
			continue
		}
		if info, err := os.Stat(filepath.Join(bundleDir, filepath.FromSlash(record.Archive))); err == nil {
			total += info.Size()
		}
	}
	return total
}

func printDependencies(cmd *cobra.Command, summary bundle.ChartSummary, depth int) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s- %s@%s\n", strings.Repeat("  ", depth), summary.Name, summary.Version)
	for _, dep := range summary.Dependencies {
		printDependencies(cmd, dep, depth+1)
	}
}
