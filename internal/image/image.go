// Package image holds all things image-related: parsing candidate image
// reference strings into their registry, repository, and tag components,
// and normalizing them so that references discovered through different
// strategies can be compared and deduplicated.
package image

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/opdev/chartpack/errors"
)

const (
	// DefaultRegistry is assumed for references that carry no registry.
	DefaultRegistry = "docker.io"
	// DefaultTag is assumed for references that carry no tag or digest.
	DefaultTag = "latest"
)

// Reference is a parsed container image reference. FullReference preserves
// the string exactly as it appeared in the chart; the remaining fields are
// the normalized components.
type Reference struct {
	Name          string `json:"name"`
	Tag           string `json:"tag"`
	Digest        string `json:"digest,omitempty"`
	Registry      string `json:"registry"`
	Repository    string `json:"repository"`
	FullReference string `json:"full_reference"`
	ChartSource   string `json:"chart_source,omitempty"`
}

// Parse parses raw into a Reference. References that still contain template
// expressions, or that don't resolve to a valid repository, return an error;
// callers treat these as skippable candidates rather than failures.
func Parse(raw string) (*Reference, error) {
	cleaned := strings.Trim(strings.TrimSpace(raw), `"'`)
	if cleaned == "" {
		return nil, errors.ErrImageEmpty
	}
	if strings.Contains(cleaned, "{{") || strings.Contains(cleaned, "}}") {
		return nil, fmt.Errorf("%w: %s", errors.ErrTemplateExpression, cleaned)
	}

	ref, err := name.ParseReference(cleaned,
		name.WithDefaultRegistry(DefaultRegistry),
		name.WithDefaultTag(DefaultTag),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse image reference %q: %w", cleaned, err)
	}

	registry := ref.Context().RegistryStr()
	if registry == name.DefaultRegistry {
		// The name package rewrites docker.io to index.docker.io; keep the
		// form users write in charts.
		registry = DefaultRegistry
	}

	parsed := Reference{
		Registry:      registry,
		Repository:    ref.Context().RepositoryStr(),
		FullReference: cleaned,
	}

	repoParts := strings.Split(parsed.Repository, "/")
	parsed.Name = repoParts[len(repoParts)-1]

	switch r := ref.(type) {
	case name.Tag:
		parsed.Tag = r.TagStr()
	case name.Digest:
		parsed.Digest = r.DigestStr()
		parsed.Tag = DefaultTag
	}

	return &parsed, nil
}

// WithSource returns a copy of r attributed to the named chart.
func (r Reference) WithSource(chartName string) Reference {
	r.ChartSource = chartName
	return r
}

// Normalized is the canonical string form of r. Two references are the same
// image if and only if their normalized forms are equal.
func (r Reference) Normalized() string {
	if r.Digest != "" {
		return fmt.Sprintf("%s/%s@%s", r.Registry, r.Repository, r.Digest)
	}
	return fmt.Sprintf("%s/%s:%s", r.Registry, r.Repository, r.Tag)
}

// String returns the reference as it appeared in the chart.
func (r Reference) String() string {
	return r.FullReference
}
