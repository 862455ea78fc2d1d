// Package render adapts the Helm engine as the template renderer used by
// image discovery. Rendering runs client-only; no cluster is contacted.
package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helm.sh/helm/v3/pkg/action"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/chart"
)

// releaseName is the throwaway release name used for discovery renders.
const releaseName = "chartpack-render"

// DefaultTimeout bounds a single chart render.
const DefaultTimeout = 2 * time.Minute

// Renderer expands a chart's templates with a value-set into flat manifest
// text. Implementations must distinguish a chart that cannot render without
// caller-supplied values (errors.ErrRenderValuesRequired) from an engine
// failure (errors.ErrRender).
type Renderer interface {
	Render(ctx context.Context, c *chart.Chart, values map[string]interface{}) (string, error)
}

// HelmRenderer renders charts with Helm's install action in dry-run,
// client-only mode.
type HelmRenderer struct {
	timeout time.Duration
}

type HelmRendererOption = func(*HelmRenderer)

// WithTimeout overrides the per-render timeout.
func WithTimeout(d time.Duration) HelmRendererOption {
	return func(r *HelmRenderer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewHelmRenderer(opts ...HelmRendererOption) *HelmRenderer {
	r := HelmRenderer{
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r
}

var _ Renderer = &HelmRenderer{}

// Render expands c with values merged over the chart defaults and returns
// the combined manifest stream.
func (r *HelmRenderer) Render(ctx context.Context, c *chart.Chart, values map[string]interface{}) (string, error) {
	client := action.NewInstall(&action.Configuration{})
	client.DryRun = true
	client.ClientOnly = true
	client.Replace = true
	client.IncludeCRDs = true
	client.DisableOpenAPIValidation = true
	client.ReleaseName = releaseName
	client.Namespace = "default"

	if values == nil {
		values = map[string]interface{}{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rel, err := client.RunWithContext(ctx, c.Helm(), values)
	if err != nil {
		// Helm surfaces the template "required" function as an untyped
		// execution error; the message is the only signal available.
		if strings.Contains(err.Error(), "required") {
			return "", fmt.Errorf("%w: %s: %s", errors.ErrRenderValuesRequired, c.Name, err)
		}
		return "", fmt.Errorf("%w: %s: %s", errors.ErrRender, c.Name, err)
	}

	return rel.Manifest, nil
}
