// Package discover implements the image discovery engine: it runs every
// extraction strategy against each node of a chart dependency tree, merges
// and deduplicates the results, and produces the final image inventory
// along with the tree actually traversed.
package discover

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/chart"
	"github.com/opdev/chartpack/internal/log"
	"github.com/opdev/chartpack/internal/render"
)

// DefaultWorkers bounds concurrent chart renders across the whole
// traversal. The renderer is the real bottleneck, so this stays small.
const DefaultWorkers = 4

// Discoverer orchestrates the strategies over a chart tree. It is
// strategy-agnostic: merge behavior depends only on strategy order, so new
// strategies plug in without touching it.
type Discoverer struct {
	renderer   render.Renderer
	strategies []Strategy
	workers    int

	// rawTemplateOnRenderFailureOnly restricts the raw-template fallback
	// to charts whose rendering failed. By default the fallback also runs
	// when rendering succeeded but surfaced no images, which
	// over-approximates in favor of air-gap completeness.
	rawTemplateOnRenderFailureOnly bool
}

type Option = func(*Discoverer)

// WithRenderer overrides the template renderer.
func WithRenderer(r render.Renderer) Option {
	return func(d *Discoverer) {
		if r != nil {
			d.renderer = r
		}
	}
}

// WithStrategies overrides the strategy set. Order is merge priority.
func WithStrategies(strategies ...Strategy) Option {
	return func(d *Discoverer) {
		if len(strategies) > 0 {
			d.strategies = strategies
		}
	}
}

// WithWorkers bounds concurrent chart renders across the traversal.
func WithWorkers(n int) Option {
	return func(d *Discoverer) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRawTemplateOnRenderFailureOnly restricts the raw-template strategy
// to charts whose rendering failed outright.
func WithRawTemplateOnRenderFailureOnly() Option {
	return func(d *Discoverer) {
		d.rawTemplateOnRenderFailureOnly = true
	}
}

func NewDiscoverer(opts ...Option) *Discoverer {
	d := Discoverer{
		renderer:   render.NewHelmRenderer(),
		strategies: DefaultStrategies(),
		workers:    DefaultWorkers,
	}

	for _, opt := range opts {
		opt(&d)
	}

	return &d
}

// Discover walks the chart tree rooted at root and returns the merged
// inventory and the traversed dependency tree. The optional values apply
// to the root chart's render only; sub-charts render with their own
// defaults. Output order is deterministic: the root's own images in
// strategy priority order, then sub-charts in declared order, depth-first.
func (d *Discoverer) Discover(ctx context.Context, root *chart.Chart, values map[string]interface{}) (*Inventory, *Node, error) {
	if root == nil {
		return nil, nil, errors.ErrChartEmpty
	}

	// One render slot pool for the whole tree: the bound holds globally,
	// not per recursion level.
	sem := semaphore.NewWeighted(int64(d.workers))
	cache := &resultCache{results: map[string]*nodeResult{}}
	result, err := d.discoverNode(ctx, root, values, map[string]bool{}, cache, sem)
	if err != nil {
		return nil, nil, err
	}

	if result.inventory.Len() == 0 {
		logger := logr.FromContextOrDiscard(ctx)
		logger.Info("no images discovered; the chart may legitimately reference none", "chart", root.Identity())
	}

	return result.inventory, result.node, nil
}

// nodeResult is a fully resolved subtree: safe to reuse when the same
// chart identity appears again off the current path.
type nodeResult struct {
	inventory *Inventory
	node      *Node
}

type resultCache struct {
	mu      sync.Mutex
	results map[string]*nodeResult
}

func (c *resultCache) get(id string) *nodeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[id]
}

func (c *resultCache) put(id string, r *nodeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[id] = r
}

func (d *Discoverer) discoverNode(
	ctx context.Context,
	c *chart.Chart,
	values map[string]interface{},
	path map[string]bool,
	cache *resultCache,
	sem *semaphore.Weighted,
) (*nodeResult, error) {
	logger := logr.FromContextOrDiscard(ctx)

	id := c.Identity()
	if path[id] {
		return nil, fmt.Errorf("%w: %s", errors.ErrCyclicDependency, id)
	}
	if cached := cache.get(id); cached != nil {
		logger.V(log.DBG).Info("reusing resolved chart", "chart", id)
		return cached, nil
	}

	// A render slot is held only for this node's own strategy work, never
	// while waiting on children.
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	inventory, imageCount := d.discoverOwnImages(ctx, c, values)
	sem.Release(1)

	node := &Node{
		Name:    c.Name,
		Version: c.Version,
		Path:    c.Path,
		Images:  imageCount,
	}

	// The visited path is copied per recursion so sibling subtrees running
	// in parallel never observe each other's traversal state.
	childPath := make(map[string]bool, len(path)+1)
	for k := range path {
		childPath[k] = true
	}
	childPath[id] = true

	childResults := make([]*nodeResult, len(c.Dependencies))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, dep := range c.Dependencies {
		i, dep := i, dep
		eg.Go(func() error {
			result, err := d.discoverNode(egCtx, dep, nil, childPath, cache, sem)
			if err != nil {
				return err
			}
			childResults[i] = result
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Merge children in declared order to keep the final ordering
	// deterministic regardless of completion order.
	for _, child := range childResults {
		inventory.Merge(child.inventory)
		node.Children = append(node.Children, child.node)
	}

	result := &nodeResult{inventory: inventory, node: node}
	cache.put(id, result)
	return result, nil
}

// discoverOwnImages runs the strategy set against a single node and merges
// the results in strategy priority order.
func (d *Discoverer) discoverOwnImages(ctx context.Context, c *chart.Chart, values map[string]interface{}) (*Inventory, int) {
	logger := logr.FromContextOrDiscard(ctx)

	target := Target{Chart: c}
	target.Rendered, target.RenderErr = d.renderer.Render(ctx, c, values)
	if target.RenderErr != nil {
		logger.Info("rendering failed; falling back to raw template scanning",
			"chart", c.Identity(), "reason", target.RenderErr.Error())
	}

	inventory := NewInventory()
	renderedFound := 0
	for _, strategy := range d.strategies {
		if strategy.Name() == StrategyRawTemplate && !d.shouldScanRawTemplates(target, renderedFound) {
			continue
		}

		result := strategy.Discover(ctx, target)
		if strategy.Name() == StrategyRendered {
			renderedFound = len(result.Refs)
		}

		for _, note := range result.Notes {
			logger.Info("discovery diagnostic", "chart", c.Name, "strategy", strategy.Name(), "note", note)
		}
		for _, ref := range result.Refs {
			inventory.Add(ref.WithSource(c.Name), strategy.Name(), c.Name)
		}
	}

	logger.V(log.DBG).Info("chart images discovered", "chart", c.Identity(), "count", inventory.Len())
	return inventory, inventory.Len()
}

func (d *Discoverer) shouldScanRawTemplates(target Target, renderedFound int) bool {
	if target.RenderErr != nil {
		return true
	}
	if d.rawTemplateOnRenderFailureOnly {
		return false
	}
	return renderedFound == 0
}
