// Package chart loads Helm charts from local sources and models them as a
// tree of nodes suitable for image discovery: each node carries its own
// metadata, value tree, raw templates, and the sub-charts it owns.
package chart

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	helmchart "helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"

	"github.com/opdev/chartpack/errors"
)

// Chart is a single node in a chart dependency tree. A parent exclusively
// owns its Dependencies; sharing between siblings is expressed through the
// discovery cache, never through the tree itself.
type Chart struct {
	Name    string
	Version string
	// Path is the locator this chart was loaded from. Sub-charts record
	// their position beneath the parent locator.
	Path string
	// Values is the chart's default value tree, before any rendering.
	Values map[string]interface{}
	// Annotations are the Chart.yaml metadata annotations.
	Annotations map[string]string
	// Dependencies are the declared sub-charts, in declaration order.
	Dependencies []*Chart

	helm *helmchart.Chart
}

// Load reads the chart at locator, which may be a chart directory or a
// packaged .tgz archive. Remote locators are rejected; fetching is the
// caller's concern.
func Load(locator string) (*Chart, error) {
	if locator == "" {
		return nil, errors.ErrChartEmpty
	}
	for _, scheme := range []string{"http://", "https://", "oci://"} {
		if strings.HasPrefix(locator, scheme) {
			return nil, fmt.Errorf("%w: %s (fetch the chart locally first)", errors.ErrUnsupportedChartScheme, locator)
		}
	}
	if _, err := os.Stat(locator); err != nil {
		return nil, fmt.Errorf("unable to read chart source: %w", err)
	}

	hc, err := loader.Load(locator)
	if err != nil {
		return nil, fmt.Errorf("unable to load chart from %s: %w", locator, err)
	}

	return fromHelm(hc, locator), nil
}

func fromHelm(hc *helmchart.Chart, locator string) *Chart {
	c := &Chart{
		Name:   hc.Name(),
		Path:   locator,
		Values: hc.Values,
		helm:   hc,
	}
	if hc.Metadata != nil {
		c.Version = hc.Metadata.Version
		c.Annotations = hc.Metadata.Annotations
	}

	for _, dep := range hc.Dependencies() {
		c.Dependencies = append(c.Dependencies, fromHelm(dep, filepath.Join(locator, "charts", dep.Name())))
	}

	return c
}

// Helm exposes the underlying Helm chart for rendering and repackaging.
func (c *Chart) Helm() *helmchart.Chart {
	return c.helm
}

// RawTemplates returns the unrendered template sources of this chart only,
// not those of its sub-charts.
func (c *Chart) RawTemplates() []*helmchart.File {
	if c.helm == nil {
		return nil
	}
	return c.helm.Templates
}

// Identity keys a chart node for cycle detection and result caching.
// Two nodes with the same name, version, and locator are the same chart.
func (c *Chart) Identity() string {
	return fmt.Sprintf("%s@%s (%s)", c.Name, c.Version, c.Path)
}
