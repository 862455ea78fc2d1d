package discover

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/opdev/chartpack/internal/image"
)

// Patterns matched against unrendered template source. Deliberately loose:
// this strategy overmatches, and the orchestrator treats its output as
// lowest confidence.
var rawImagePatterns = []*regexp.Regexp{
	// An image key with a literal value.
	regexp.MustCompile(`(?i)image:\s*["']?([^\s"']+)["']?`),
	// Anything shaped like registry-host/repo/path:tag.
	regexp.MustCompile(`["']([a-z0-9](?:[a-z0-9.-]*[a-z0-9])?\.[a-z]{2,}(?::\d+)?/[a-zA-Z0-9._/-]+:[a-zA-Z0-9._-]+)["']`),
}

// rawTemplateStrategy scans unrendered template sources for
// image-reference-shaped strings. It runs as the fallback when rendering
// fails or yields no candidates; template expressions are skipped since
// they cannot name a concrete image.
type rawTemplateStrategy struct{}

func (rawTemplateStrategy) Name() string {
	return StrategyRawTemplate
}

func (s rawTemplateStrategy) Discover(_ context.Context, target Target) Result {
	result := Result{Strategy: s.Name()}

	for _, tpl := range target.Chart.RawTemplates() {
		if !isTemplateSource(tpl.Name) {
			continue
		}

		content := string(tpl.Data)
		for _, pattern := range rawImagePatterns {
			for _, match := range pattern.FindAllStringSubmatch(content, -1) {
				candidate := match[1]
				if strings.Contains(candidate, "{{") || strings.Contains(candidate, "}}") {
					continue
				}
				ref, err := image.Parse(candidate)
				if err != nil {
					result.Notes = append(result.Notes, fmt.Sprintf("template %s candidate %q: %v", tpl.Name, candidate, err))
					continue
				}
				result.Refs = appendUnique(result.Refs, *ref)
			}
		}
	}

	return result
}

func isTemplateSource(name string) bool {
	for _, suffix := range []string{".yaml", ".yml", ".tpl"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
