package discover

import (
	"context"
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/image"
)

// Annotation keys that may carry structured image descriptors.
const (
	annotationImages            = "images"
	annotationArtifactHubImages = "artifacthub.io/images"
)

// annotationStrategy reads well-known Chart.yaml annotations. Absent or
// malformed annotations produce notes, not errors; malformed entries are
// skipped individually.
type annotationStrategy struct{}

func (annotationStrategy) Name() string {
	return StrategyAnnotation
}

type annotatedImage struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

func (s annotationStrategy) Discover(_ context.Context, target Target) Result {
	result := Result{Strategy: s.Name()}

	for _, key := range []string{annotationImages, annotationArtifactHubImages} {
		raw, ok := target.Chart.Annotations[key]
		if !ok || raw == "" {
			continue
		}

		var descriptors []annotatedImage
		if err := yaml.Unmarshal([]byte(raw), &descriptors); err != nil {
			result.Notes = append(result.Notes, malformedNote(key, fmt.Sprintf("not a valid image list: %v", err)))
			continue
		}

		for _, d := range descriptors {
			if d.Image == "" {
				result.Notes = append(result.Notes, malformedNote(key, fmt.Sprintf("entry %q has no image", d.Name)))
				continue
			}
			ref, err := image.Parse(d.Image)
			if err != nil {
				result.Notes = append(result.Notes, malformedNote(key, fmt.Sprintf("entry %q: %v", d.Image, err)))
				continue
			}
			result.Refs = appendUnique(result.Refs, *ref)
		}
	}

	return result
}

// malformedNote renders a skipped-entry diagnostic under the
// malformed-annotation error kind.
func malformedNote(key, detail string) string {
	return fmt.Errorf("%w: annotation %s: %s", errors.ErrMalformedAnnotation, key, detail).Error()
}

// appendUnique appends ref unless an equal normalized form is present.
func appendUnique(refs []image.Reference, ref image.Reference) []image.Reference {
	for _, existing := range refs {
		if existing.Normalized() == ref.Normalized() {
			return refs
		}
	}
	return append(refs, ref)
}
