package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/chart"
	"github.com/opdev/chartpack/internal/discover"
	"github.com/opdev/chartpack/internal/image"
)

// Bundle archive layout and format identity.
const (
	ManifestAPIVersion = "v1"
	ManifestKind       = "ChartpackBundle"
	ManifestFileName   = "bundle.yaml"
	ChartDirName       = "chart"
	ImagesDirName      = "images"
	GeneratedBy        = "chartpack"
)

// Manifest is the bundle's top-level metadata document. It is written once
// during assembly and read-only afterward.
type Manifest struct {
	APIVersion      string        `json:"apiVersion"`
	Kind            string        `json:"kind"`
	Metadata        Metadata      `json:"metadata"`
	Chart           ChartSummary  `json:"chart"`
	Images          []ImageRecord `json:"images"`
	PartialFailures []Failure     `json:"partialFailures,omitempty"`
}

type Metadata struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	GeneratedAt        string `json:"generatedAt"`
	GeneratedBy        string `json:"generatedBy"`
	TotalImages        int    `json:"totalImages"`
	TotalDependencies  int    `json:"totalDependencies"`
	IncludesImages     bool   `json:"includesImages"`
	IncludesSignatures bool   `json:"includesSignatures,omitempty"`
}

// ChartSummary mirrors the chart dependency tree in the manifest.
type ChartSummary struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Dependencies []ChartSummary `json:"dependencies,omitempty"`
}

// ImageRecord is one inventory entry plus its materialization state.
type ImageRecord struct {
	image.Reference
	Normalized string   `json:"normalized"`
	Strategies []string `json:"strategies,omitempty"`
	Charts     []string `json:"charts,omitempty"`
	// Archive is the bundle-relative path of the saved image tarball,
	// empty when the image was not materialized.
	Archive string `json:"archive,omitempty"`
}

// Failure records a per-image soft failure during assembly.
type Failure struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

func summarizeChart(c *chart.Chart) ChartSummary {
	summary := ChartSummary{
		Name:    c.Name,
		Version: c.Version,
	}
	for _, dep := range c.Dependencies {
		summary.Dependencies = append(summary.Dependencies, summarizeChart(dep))
	}
	return summary
}

func recordsFromInventory(inventory *discover.Inventory) []ImageRecord {
	records := make([]ImageRecord, 0, inventory.Len())
	for _, entry := range inventory.Entries() {
		records = append(records, ImageRecord{
			Reference:  entry.Ref,
			Normalized: entry.Ref.Normalized(),
			Strategies: entry.Strategies,
			Charts:     entry.Charts,
		})
	}
	return records
}

// LoadManifest reads and validates the manifest from an extracted bundle
// directory. Validation happens before any registry mutation: a missing or
// unrecognized manifest means the archive is corrupt.
func LoadManifest(bundleDir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(bundleDir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read manifest: %s", errors.ErrArchiveCorrupt, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: unable to parse manifest: %s", errors.ErrArchiveCorrupt, err)
	}

	if manifest.APIVersion != ManifestAPIVersion || manifest.Kind != ManifestKind {
		return nil, fmt.Errorf("%w: unrecognized manifest format %s/%s",
			errors.ErrArchiveCorrupt, manifest.APIVersion, manifest.Kind)
	}

	return &manifest, nil
}
