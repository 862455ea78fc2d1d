// Package bundle assembles a chart, its discovered images, and a manifest
// describing both into a single portable archive, and unpacks such archives
// on the receiving side.
package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
	"helm.sh/helm/v3/pkg/chartutil"
	"sigs.k8s.io/yaml"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/chart"
	"github.com/opdev/chartpack/internal/discover"
)

// DefaultImageWorkers bounds concurrent image pulls during assembly.
const DefaultImageWorkers = 4

// Assembler builds bundle archives. The zero value is not usable; construct
// one with NewAssembler.
type Assembler struct {
	saver   ImageSaver
	workers int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithImageSaver replaces the default crane-backed saver.
func WithImageSaver(s ImageSaver) Option {
	return func(a *Assembler) {
		a.saver = s
	}
}

// WithImageWorkers sets the number of concurrent image pulls.
func WithImageWorkers(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.workers = n
		}
	}
}

func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		saver:   &CraneSaver{},
		workers: DefaultImageWorkers,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AssembleInput carries everything Assemble needs: the loaded chart, its
// image inventory, and output policy.
type AssembleInput struct {
	Chart     *chart.Chart
	Inventory *discover.Inventory
	OutputDir string
	// SkipImages produces a manifest-and-chart-only bundle.
	SkipImages bool
	// IncludeSignatures is recorded in the manifest for the importer's
	// benefit; signature payloads travel inside the image tarballs.
	IncludeSignatures bool
}

// AssembleResult reports what Assemble produced.
type AssembleResult struct {
	ArchivePath     string
	ImagesSaved     int
	PartialFailures []Failure
}

// Assemble stages the chart tree, pulls and saves every inventoried image,
// writes the manifest, and packages the staging directory into
// <name>-<version>.chartpack.tgz under input.OutputDir.
//
// Individual image pull failures are soft: they are recorded in the
// manifest's partialFailures list and the bundle is still produced. Only
// when every requested image fails does Assemble return an error.
func (a *Assembler) Assemble(ctx context.Context, input AssembleInput) (*AssembleResult, error) {
	logger := logr.FromContextOrDiscard(ctx)

	if input.Chart == nil {
		return nil, errors.ErrChartEmpty
	}

	staging, err := os.MkdirTemp("", "chartpack-assemble-*")
	if err != nil {
		return nil, fmt.Errorf("unable to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	bundleName := fmt.Sprintf("%s-%s", input.Chart.Name, input.Chart.Version)
	bundleDir := filepath.Join(staging, bundleName)
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return nil, err
	}

	if err := snapshotChart(input.Chart, bundleDir); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		APIVersion: ManifestAPIVersion,
		Kind:       ManifestKind,
		Metadata: Metadata{
			Name:               input.Chart.Name,
			Version:            input.Chart.Version,
			GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
			GeneratedBy:        GeneratedBy,
			TotalImages:        input.Inventory.Len(),
			TotalDependencies:  len(input.Chart.Dependencies),
			IncludesImages:     !input.SkipImages,
			IncludesSignatures: input.IncludeSignatures,
		},
		Chart:  summarizeChart(input.Chart),
		Images: recordsFromInventory(input.Inventory),
	}

	saved := 0
	if !input.SkipImages && input.Inventory.Len() > 0 {
		saved, err = a.saveImages(ctx, manifest, bundleDir)
		if err != nil {
			return nil, err
		}
	}

	if err := writeManifest(manifest, bundleDir); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(input.OutputDir, 0o755); err != nil {
		return nil, err
	}
	archivePath := filepath.Join(input.OutputDir, bundleName+".chartpack.tgz")
	if err := writeArchive(bundleDir, archivePath); err != nil {
		return nil, err
	}

	logger.V(0).Info("bundle assembled",
		"archive", archivePath,
		"images", saved,
		"failures", len(manifest.PartialFailures))

	return &AssembleResult{
		ArchivePath:     archivePath,
		ImagesSaved:     saved,
		PartialFailures: manifest.PartialFailures,
	}, nil
}

// saveImages pulls every manifest image into bundleDir/images with bounded
// concurrency. Per-image failures are collected on the manifest; the
// returned count is the number of tarballs actually written.
func (a *Assembler) saveImages(ctx context.Context, manifest *Manifest, bundleDir string) (int, error) {
	logger := logr.FromContextOrDiscard(ctx)

	imagesDir := filepath.Join(bundleDir, ImagesDirName)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return 0, err
	}

	sem := semaphore.NewWeighted(int64(a.workers))
	var (
		mu    sync.Mutex
		saved int
		wg    sync.WaitGroup
	)

	var acquireErr error
	for i := range manifest.Images {
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = err
			break
		}

		wg.Add(1)
		go func(record *ImageRecord) {
			defer wg.Done()
			defer sem.Release(1)

			fileName := archiveFileName(record.Reference)
			dest := filepath.Join(imagesDir, fileName)

			logger.V(1).Info("saving image", "ref", record.Normalized)
			if err := a.saver.Save(ctx, record.Reference, dest); err != nil {
				logger.Info("image skipped", "ref", record.Normalized, "error", err.Error())
				mu.Lock()
				manifest.PartialFailures = append(manifest.PartialFailures, Failure{
					Reference: record.Normalized,
					Error:     err.Error(),
				})
				mu.Unlock()
				return
			}

			mu.Lock()
			record.Archive = filepath.ToSlash(filepath.Join(ImagesDirName, fileName))
			saved++
			mu.Unlock()
		}(&manifest.Images[i])
	}

	// In-flight saves must finish before the caller tears down the staging
	// tree, cancellation included.
	wg.Wait()

	if acquireErr != nil {
		return saved, acquireErr
	}
	sortFailures(manifest.PartialFailures)

	if saved == 0 {
		return 0, fmt.Errorf("%w: all %d image pulls failed", errors.ErrNoImagesSaved, len(manifest.Images))
	}

	return saved, nil
}

// sortFailures keeps the manifest deterministic regardless of goroutine
// completion order.
func sortFailures(failures []Failure) {
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Reference < failures[j].Reference
	})
}

// snapshotChart writes the chart tree, dependencies included, under
// bundleDir/chart.
func snapshotChart(c *chart.Chart, bundleDir string) error {
	tmp, err := os.MkdirTemp(bundleDir, ".chart-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := chartutil.SaveDir(c.Helm(), tmp); err != nil {
		return fmt.Errorf("unable to snapshot chart: %w", err)
	}

	// SaveDir writes to tmp/<chart name>; move it to the fixed layout path.
	return os.Rename(filepath.Join(tmp, c.Name), filepath.Join(bundleDir, ChartDirName))
}

func writeManifest(manifest *Manifest, bundleDir string) error {
	raw, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("unable to marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(bundleDir, ManifestFileName), raw, 0o644)
}
