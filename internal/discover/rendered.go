package discover

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opdev/chartpack/internal/image"
)

// renderedStrategy walks the renderer's output documents and extracts every
// string found under an "image" key, at any depth. Container and
// init-container lists need no special handling; the walk reaches their
// image fields through the generic recursion.
type renderedStrategy struct{}

func (renderedStrategy) Name() string {
	return StrategyRendered
}

func (s renderedStrategy) Discover(_ context.Context, target Target) Result {
	result := Result{Strategy: s.Name()}
	if target.Rendered == "" {
		return result
	}

	// Documents are split and decoded individually so a single undecodable
	// document doesn't hide images in its siblings.
	for _, doc := range strings.Split(target.Rendered, "\n---") {
		if strings.TrimSpace(doc) == "" {
			continue
		}

		var decoded interface{}
		if err := yaml.Unmarshal([]byte(doc), &decoded); err != nil {
			result.Notes = append(result.Notes, fmt.Sprintf("skipping undecodable rendered document: %v", err))
			continue
		}

		walkImageStrings(decoded, func(candidate string) {
			ref, err := image.Parse(candidate)
			if err != nil {
				result.Notes = append(result.Notes, fmt.Sprintf("rendered candidate %q: %v", candidate, err))
				return
			}
			result.Refs = appendUnique(result.Refs, *ref)
		})
	}

	return result
}

// walkImageStrings visits every string value stored under a key whose
// lowercase form is "image", anywhere in a decoded YAML tree. Map keys are
// visited in sorted order so discovery output is deterministic.
func walkImageStrings(node interface{}, visit func(candidate string)) {
	switch v := node.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if strings.EqualFold(k, "image") {
				if s, ok := v[k].(string); ok {
					visit(s)
					continue
				}
			}
			walkImageStrings(v[k], visit)
		}
	case []interface{}:
		for _, item := range v {
			walkImageStrings(item, visit)
		}
	}
}
