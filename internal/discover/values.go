package discover

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opdev/chartpack/internal/image"
)

// valuesStrategy walks a chart's declared value tree before rendering.
// For every key matching the "image" naming convention it accepts either a
// plain reference string or the structured {registry?, repository, tag?}
// shape, synthesizing a reference from the parts. Partial shapes are
// tolerated: a missing tag defaults to latest, a missing repository skips
// the candidate.
type valuesStrategy struct{}

func (valuesStrategy) Name() string {
	return StrategyValues
}

func (s valuesStrategy) Discover(_ context.Context, target Target) Result {
	result := Result{Strategy: s.Name()}
	walkValueTree(target.Chart.Values, func(candidate string) {
		ref, err := image.Parse(candidate)
		if err != nil {
			result.Notes = append(result.Notes, fmt.Sprintf("values candidate %q: %v", candidate, err))
			return
		}
		result.Refs = appendUnique(result.Refs, *ref)
	})
	return result
}

func walkValueTree(node interface{}, visit func(candidate string)) {
	switch v := node.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if isImageKey(k) {
				switch value := v[k].(type) {
				case string:
					visit(value)
					continue
				case map[string]interface{}:
					if candidate, ok := synthesizeReference(value); ok {
						visit(candidate)
					}
					// An image-shaped map may still nest further image
					// blocks; keep walking.
				}
			}
			walkValueTree(v[k], visit)
		}
	case []interface{}:
		for _, item := range v {
			walkValueTree(item, visit)
		}
	}
}

// isImageKey reports whether key names an image by convention, e.g.
// "image", "Image", "sidecarImage".
func isImageKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), "image")
}

// synthesizeReference joins a structured image value into a reference
// string. Returns false when no repository is present.
func synthesizeReference(value map[string]interface{}) (string, bool) {
	repository := stringValue(value, "repository")
	if repository == "" {
		return "", false
	}

	candidate := repository
	if tag := stringValue(value, "tag"); tag != "" {
		candidate = fmt.Sprintf("%s:%s", candidate, tag)
	} else if !strings.Contains(repository, ":") {
		candidate = fmt.Sprintf("%s:%s", candidate, image.DefaultTag)
	}
	if registry := stringValue(value, "registry"); registry != "" {
		candidate = fmt.Sprintf("%s/%s", registry, candidate)
	}

	return candidate, true
}

// stringValue reads key from m, rendering scalar non-strings (YAML numeric
// tags are common) through their default format.
func stringValue(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	switch v.(type) {
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	}
	return ""
}
