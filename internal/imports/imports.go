// Package imports replays a bundle archive against a target registry. The
// import is a linear state machine (Extracted, ImagesLoaded, ImagesRetagged,
// ImagesPushed, ChartRelocated, ChartPublished) with a persisted
// completed-steps record so a failed import can be rerun without repeating
// pushes that already reached the registry.
package imports

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/chartutil"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/bundle"
	"github.com/opdev/chartpack/internal/log"
)

const (
	// DefaultPushWorkers bounds concurrent pushes; registries commonly
	// rate-limit.
	DefaultPushWorkers = 4
	// DefaultMaxRetries bounds retry attempts per transient failure.
	DefaultMaxRetries = 3
	// DefaultRetryInterval seeds the exponential backoff.
	DefaultRetryInterval = 2 * time.Second
)

// Importer drives the import state machine.
type Importer struct {
	registry      Registry
	stateFS       afero.Fs
	stateDir      string
	workers       int
	maxRetries    uint64
	retryInterval time.Duration
}

type Option func(*Importer)

// WithRegistry replaces the default crane-backed registry client.
func WithRegistry(r Registry) Option {
	return func(i *Importer) {
		i.registry = r
	}
}

// WithStateStore sets where completed-steps records are persisted.
func WithStateStore(fs afero.Fs, dir string) Option {
	return func(i *Importer) {
		i.stateFS = fs
		i.stateDir = dir
	}
}

// WithPushWorkers sets the number of concurrent image pushes.
func WithPushWorkers(n int) Option {
	return func(i *Importer) {
		if n > 0 {
			i.workers = n
		}
	}
}

// WithRetryPolicy tunes the transient-failure retry behavior.
func WithRetryPolicy(maxRetries uint64, interval time.Duration) Option {
	return func(i *Importer) {
		i.maxRetries = maxRetries
		if interval > 0 {
			i.retryInterval = interval
		}
	}
}

func NewImporter(target Registry, opts ...Option) *Importer {
	i := &Importer{
		registry:      target,
		stateFS:       afero.NewOsFs(),
		stateDir:      filepath.Join(os.TempDir(), "chartpack-state"),
		workers:       DefaultPushWorkers,
		maxRetries:    DefaultMaxRetries,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Input identifies the archive and the import target.
type Input struct {
	ArchivePath string
	// Host is the target registry host, without scheme.
	Host string
	// Project is the registry project or namespace images and the chart
	// are published under.
	Project string
}

// Result reports what the import run did.
type Result struct {
	ChartRef       string
	ImagesPushed   int
	ImagesSkipped  int
	FilesRelocated int
	CompletedSteps []Step
}

// loadedImage pairs a manifest record with its on-disk archive.
type loadedImage struct {
	record      bundle.ImageRecord
	archivePath string
	targetRef   string
}

// Run executes the state machine. Archive validation happens before any
// registry mutation. Transient registry errors are retried with exponential
// backoff; auth and quota errors halt the import, leaving the persisted
// record in place so a rerun skips images that already completed.
func (i *Importer) Run(ctx context.Context, input Input) (*Result, error) {
	logger := logr.FromContextOrDiscard(ctx)

	if input.ArchivePath == "" {
		return nil, errors.ErrBundleEmpty
	}

	digest, err := bundleDigest(input.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("unable to read bundle: %w", err)
	}

	target := input.Host + "/" + input.Project
	store := newStateStore(i.stateFS, i.stateDir)
	record, err := store.load(input.ArchivePath, digest, target)
	if err != nil {
		return nil, err
	}
	if len(record.CompletedSteps) > 0 {
		logger.Info("resuming a previous import", "completedSteps", record.CompletedSteps)
	}

	workDir, err := os.MkdirTemp("", "chartpack-import-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	result := &Result{}

	// Extracted. Always rerun; the working copy from a previous run is gone.
	bundleDir, err := bundle.Extract(input.ArchivePath, workDir)
	if err != nil {
		return nil, err
	}
	manifest, err := bundle.LoadManifest(bundleDir)
	if err != nil {
		return nil, err
	}
	i.transition(record, store, result, StepExtracted)

	// ImagesLoaded. Verify every materialized archive survived transfer.
	images, err := loadImages(manifest, bundleDir)
	if err != nil {
		return nil, err
	}
	i.transition(record, store, result, StepImagesLoaded)

	// ImagesRetagged. Compute each image's target-registry reference.
	for idx := range images {
		images[idx].targetRef = TargetReference(input.Host, input.Project, images[idx].record.Reference)
	}
	i.transition(record, store, result, StepImagesRetagged)

	// ImagesPushed.
	if err := i.pushImages(ctx, images, record, store, result); err != nil {
		return nil, fmt.Errorf("import halted at %s (%d images pushed, %d skipped): %w",
			StepImagesPushed, result.ImagesPushed, result.ImagesSkipped, err)
	}
	i.transition(record, store, result, StepImagesPushed)

	// ChartRelocated. Rewrite references in the extracted working copy.
	chartDir := filepath.Join(bundleDir, bundle.ChartDirName)
	relocations := buildRelocationMap(manifest, input.Host, input.Project)
	changed, err := relocateChart(chartDir, relocations)
	if err != nil {
		return nil, fmt.Errorf("import halted at %s: %w", StepChartRelocated, err)
	}
	result.FilesRelocated = changed
	i.transition(record, store, result, StepChartRelocated)

	// ChartPublished.
	chartRef := fmt.Sprintf("%s/%s/%s:%s", input.Host, input.Project,
		manifest.Metadata.Name, manifest.Metadata.Version)
	if record.completed(StepChartPublished) {
		logger.V(log.DBG).Info("chart already published, skipping", "ref", record.ChartRef)
		result.ChartRef = record.ChartRef
		result.CompletedSteps = append(result.CompletedSteps, StepChartPublished)
	} else {
		if err := i.publishChart(ctx, chartDir, workDir, chartRef); err != nil {
			return nil, fmt.Errorf("import halted at %s: %w", StepChartPublished, err)
		}
		record.ChartRef = chartRef
		result.ChartRef = chartRef
		i.transition(record, store, result, StepChartPublished)
	}

	logger.Info("import complete",
		"chart", result.ChartRef,
		"pushed", result.ImagesPushed,
		"skipped", result.ImagesSkipped)

	return result, nil
}

// transition marks a step complete on both the persisted record and the
// in-flight result.
func (i *Importer) transition(record *stateRecord, store *stateStore, result *Result, step Step) {
	record.markCompleted(step)
	result.CompletedSteps = append(result.CompletedSteps, step)
	// Persistence failures must not abort the import; the record is an
	// optimization for reruns, not a correctness requirement.
	_ = store.save(record)
}

// loadImages collects the materialized image archives from the extracted
// bundle. A manifest record pointing at a missing archive means the bundle
// was truncated or tampered with.
func loadImages(manifest *bundle.Manifest, bundleDir string) ([]loadedImage, error) {
	images := make([]loadedImage, 0, len(manifest.Images))
	for _, record := range manifest.Images {
		if record.Archive == "" {
			continue
		}

		archivePath := filepath.Join(bundleDir, filepath.FromSlash(record.Archive))
		if _, err := os.Stat(archivePath); err != nil {
			return nil, fmt.Errorf("%w: image archive %s listed in manifest but missing",
				errors.ErrArchiveCorrupt, record.Archive)
		}

		images = append(images, loadedImage{record: record, archivePath: archivePath})
	}
	return images, nil
}

// pushImages pushes every loaded image to its target reference with bounded
// concurrency. Every image is checked against the target registry first;
// the persisted record is a fallback for when the registry cannot answer,
// not a substitute for the check. An image the record claims pushed but the
// registry no longer holds is pushed again.
func (i *Importer) pushImages(ctx context.Context, images []loadedImage, record *stateRecord, store *stateStore, result *Result) error {
	logger := logr.FromContextOrDiscard(ctx)

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(i.workers)

	for _, img := range images {
		img := img
		eg.Go(func() error {
			mu.Lock()
			recorded := record.pushed(img.targetRef)
			mu.Unlock()

			exists, err := i.registry.Exists(egCtx, img.targetRef)
			if err != nil {
				if !goerrors.Is(err, errors.ErrRegistryTransient) {
					return err
				}
				exists = recorded
			}
			if exists {
				logger.V(log.DBG).Info("image already present in target, skipping", "ref", img.targetRef)
				mu.Lock()
				record.markPushed(img.targetRef)
				result.ImagesSkipped++
				_ = store.save(record)
				mu.Unlock()
				return nil
			}

			if recorded {
				logger.Info("image recorded as pushed but missing from target, pushing again", "ref", img.targetRef)
			}

			logger.Info("pushing image", "from", img.record.Normalized, "to", img.targetRef)
			err = i.withRetry(egCtx, func() error {
				return i.registry.PushArchive(egCtx, img.archivePath, img.targetRef)
			})
			if err != nil {
				return fmt.Errorf("push of %s failed: %w", img.targetRef, err)
			}

			mu.Lock()
			record.markPushed(img.targetRef)
			result.ImagesPushed++
			_ = store.save(record)
			mu.Unlock()
			return nil
		})
	}

	return eg.Wait()
}

// publishChart packages the relocated chart tree and pushes it as an OCI
// artifact.
func (i *Importer) publishChart(ctx context.Context, chartDir, workDir, ref string) error {
	ch, err := loader.Load(chartDir)
	if err != nil {
		return fmt.Errorf("unable to load relocated chart: %w", err)
	}

	packaged, err := chartutil.Save(ch, workDir)
	if err != nil {
		return fmt.Errorf("unable to package relocated chart: %w", err)
	}

	return i.withRetry(ctx, func() error {
		return i.registry.PushChart(ctx, packaged, ref)
	})
}

// withRetry runs op, retrying transient registry failures with exponential
// backoff. Non-transient failures are returned immediately.
func (i *Importer) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = i.retryInterval

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if goerrors.Is(err, errors.ErrRegistryTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, i.maxRetries), ctx))
}
