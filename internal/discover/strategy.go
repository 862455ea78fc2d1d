package discover

import (
	"context"

	"github.com/opdev/chartpack/internal/chart"
)

// Target bundles the inputs available to strategies for a single chart
// node. Rendered holds the renderer's output; RenderErr records why
// rendering failed, if it did. Strategies use whichever inputs they need
// and produce an empty Result when their input is absent.
type Target struct {
	Chart     *chart.Chart
	Rendered  string
	RenderErr error
}

// Strategy is a single stateless image extraction strategy. A strategy
// finding nothing is not an error; only the orchestrator decides whether
// zero total results matter.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, target Target) Result
}

// DefaultStrategies returns the built-in strategy set in merge priority
// order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		annotationStrategy{},
		renderedStrategy{},
		valuesStrategy{},
		rawTemplateStrategy{},
	}
}
