package discover

import (
	"context"
	"fmt"
	"sync"
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/chart"
	"github.com/opdev/chartpack/internal/render"
)

// fakeRenderer returns canned output, standing in for the Helm engine.
type fakeRenderer struct {
	manifest string
	err      error
}

func (f fakeRenderer) Render(_ context.Context, _ *chart.Chart, _ map[string]interface{}) (string, error) {
	return f.manifest, f.err
}

var _ render.Renderer = fakeRenderer{}

// countingRenderer tracks how many renders run at once.
type countingRenderer struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (r *countingRenderer) Render(_ context.Context, _ *chart.Chart, _ map[string]interface{}) (string, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return "", nil
}

var _ = ginkgo.Describe("Image discovery", func() {
	ginkgo.Context("with a chart declaring images only in its values", func() {
		ginkgo.It("should discover them through the value-tree strategy alone", func() {
			c, err := chart.Load("./testdata/values-only-chart")
			Expect(err).ToNot(HaveOccurred())

			inventory, _, err := NewDiscoverer().Discover(context.Background(), c, nil)
			Expect(err).ToNot(HaveOccurred())

			entries := inventory.Entries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Ref.FullReference).To(Equal("nginx:1.25"))
			Expect(entries[0].Strategies).To(Equal([]string{StrategyValues}))
		})
	})

	ginkgo.Context("with a chart naming the same image in an annotation and a template", func() {
		ginkgo.It("should list the image once with both strategies in its provenance", func() {
			c, err := chart.Load("./testdata/annotated-chart")
			Expect(err).ToNot(HaveOccurred())

			inventory, _, err := NewDiscoverer().Discover(context.Background(), c, nil)
			Expect(err).ToNot(HaveOccurred())

			entries := inventory.Entries()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Strategies).To(Equal([]string{StrategyAnnotation, StrategyRendered}))
			Expect(entries[0].Ref.FullReference).To(Equal("nginx:1.25"))
		})
	})

	ginkgo.Context("with a chart that cannot render without values", func() {
		ginkgo.It("should fall back to raw template scanning", func() {
			c, err := chart.Load("./testdata/fallback-chart")
			Expect(err).ToNot(HaveOccurred())

			inventory, _, err := NewDiscoverer().Discover(context.Background(), c, nil)
			Expect(err).ToNot(HaveOccurred())

			refs := make([]string, 0)
			for _, entry := range inventory.Entries() {
				refs = append(refs, entry.Ref.FullReference)
				Expect(entry.Strategies).To(Equal([]string{StrategyRawTemplate}))
			}
			Expect(refs).To(ConsistOf("busybox:1.36", "ghcr.io/acme/tool:v3"))
		})
	})

	ginkgo.Context("with a chart that renders cleanly but surfaces no images", func() {
		ginkgo.It("should scan raw templates by default", func() {
			c, err := chart.Load("./testdata/hidden-chart")
			Expect(err).ToNot(HaveOccurred())

			inventory, _, err := NewDiscoverer().Discover(context.Background(), c, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(inventory.Len()).To(Equal(1))
			Expect(inventory.Refs()[0].FullReference).To(Equal("quay.io/acme/hidden:v1"))
		})

		ginkgo.It("should skip raw templates under the strict fallback policy", func() {
			c, err := chart.Load("./testdata/hidden-chart")
			Expect(err).ToNot(HaveOccurred())

			d := NewDiscoverer(WithRawTemplateOnRenderFailureOnly())
			inventory, _, err := d.Discover(context.Background(), c, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(inventory.Len()).To(BeZero())
		})
	})

	ginkgo.Context("with a cyclic dependency tree", func() {
		ginkgo.It("should fail with a cyclic dependency error and terminate", func() {
			a := &chart.Chart{Name: "a", Version: "1.0.0", Path: "a"}
			b := &chart.Chart{Name: "b", Version: "1.0.0", Path: "b"}
			a.Dependencies = []*chart.Chart{b}
			b.Dependencies = []*chart.Chart{a}

			d := NewDiscoverer(WithRenderer(fakeRenderer{}))
			_, _, err := d.Discover(context.Background(), a, nil)
			Expect(err).To(MatchError(errors.ErrCyclicDependency))
		})
	})

	ginkgo.Context("with a repeated dependency off the traversal path", func() {
		ginkgo.It("should reuse the resolved subtree instead of failing", func() {
			shared := &chart.Chart{
				Name: "shared", Version: "1.0.0", Path: "shared",
				Values: map[string]interface{}{
					"image": map[string]interface{}{"repository": "shared-app", "tag": "v1"},
				},
			}
			root := &chart.Chart{
				Name: "root", Version: "1.0.0", Path: "root",
				Dependencies: []*chart.Chart{
					{Name: "left", Version: "1.0.0", Path: "left", Dependencies: []*chart.Chart{shared}},
					{Name: "right", Version: "1.0.0", Path: "right", Dependencies: []*chart.Chart{shared}},
				},
			}

			d := NewDiscoverer(WithRenderer(fakeRenderer{}))
			inventory, tree, err := d.Discover(context.Background(), root, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(inventory.Len()).To(Equal(1))
			Expect(tree.Children).To(HaveLen(2))
			Expect(tree.Children[0].Children[0].Name).To(Equal("shared"))
		})
	})

	ginkgo.Context("with a chart referencing no images at all", func() {
		ginkgo.It("should produce an empty inventory without failing", func() {
			c := &chart.Chart{Name: "config-only", Version: "1.0.0", Path: "config-only"}

			d := NewDiscoverer(WithRenderer(fakeRenderer{}))
			inventory, _, err := d.Discover(context.Background(), c, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(inventory.Len()).To(BeZero())
		})
	})

	ginkgo.Context("with a deep tree and a small worker bound", func() {
		ginkgo.It("should never render more charts at once than the bound allows", func() {
			// Three branches of three leaves each, all distinct identities,
			// would render nine-wide if the bound only held per level.
			root := &chart.Chart{Name: "root", Version: "1.0.0", Path: "root"}
			for b := 0; b < 3; b++ {
				branch := &chart.Chart{
					Name:    fmt.Sprintf("branch-%d", b),
					Version: "1.0.0",
					Path:    fmt.Sprintf("branch-%d", b),
				}
				for l := 0; l < 3; l++ {
					branch.Dependencies = append(branch.Dependencies, &chart.Chart{
						Name:    fmt.Sprintf("leaf-%d-%d", b, l),
						Version: "1.0.0",
						Path:    fmt.Sprintf("leaf-%d-%d", b, l),
					})
				}
				root.Dependencies = append(root.Dependencies, branch)
			}

			renderer := &countingRenderer{}
			d := NewDiscoverer(WithRenderer(renderer), WithWorkers(2))
			_, _, err := d.Discover(context.Background(), root, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(renderer.maxInFlight).To(BeNumerically("<=", 2))
		})
	})

	ginkgo.Context("when run repeatedly over the same tree", func() {
		ginkgo.It("should produce identical inventory ordering", func() {
			root := &chart.Chart{
				Name: "root", Version: "1.0.0", Path: "root",
				Values: map[string]interface{}{
					"api":    map[string]interface{}{"image": "quay.io/acme/api:v1"},
					"web":    map[string]interface{}{"image": "quay.io/acme/web:v1"},
					"worker": map[string]interface{}{"image": "quay.io/acme/worker:v1"},
				},
				Dependencies: []*chart.Chart{
					{Name: "db", Version: "1.0.0", Path: "db", Values: map[string]interface{}{
						"image": map[string]interface{}{"repository": "postgres", "tag": "16"},
					}},
					{Name: "cache", Version: "1.0.0", Path: "cache", Values: map[string]interface{}{
						"image": map[string]interface{}{"repository": "redis", "tag": "7"},
					}},
				},
			}

			d := NewDiscoverer(WithRenderer(fakeRenderer{}), WithWorkers(2))
			first, _, err := d.Discover(context.Background(), root, nil)
			Expect(err).ToNot(HaveOccurred())

			for i := 0; i < 5; i++ {
				again, _, err := NewDiscoverer(WithRenderer(fakeRenderer{}), WithWorkers(2)).
					Discover(context.Background(), root, nil)
				Expect(err).ToNot(HaveOccurred())
				Expect(again.Refs()).To(Equal(first.Refs()))
			}

			// Root images first, then dependencies in declared order.
			refs := first.Refs()
			Expect(refs[len(refs)-2].Name).To(Equal("postgres"))
			Expect(refs[len(refs)-1].Name).To(Equal("redis"))
		})
	})
})

var _ = ginkgo.Describe("Strategy behavior", func() {
	ginkgo.Context("annotation strategy", func() {
		ginkgo.It("should skip malformed entries without failing", func() {
			c := &chart.Chart{
				Name: "bad-annotations", Version: "1.0.0", Path: "bad-annotations",
				Annotations: map[string]string{
					"images": "- name: ok\n  image: nginx:1.25\n- name: broken\n  image: \"{{ .Values.image }}\"\n",
				},
			}

			result := annotationStrategy{}.Discover(context.Background(), Target{Chart: c})
			Expect(result.Refs).To(HaveLen(1))
			Expect(result.Notes).ToNot(BeEmpty())
			Expect(result.Notes[0]).To(ContainSubstring(errors.ErrMalformedAnnotation.Error()))
		})

		ginkgo.It("should treat an unparsable annotation as empty, not fatal", func() {
			c := &chart.Chart{
				Name: "garbage", Version: "1.0.0", Path: "garbage",
				Annotations: map[string]string{"images": ":::not yaml"},
			}

			result := annotationStrategy{}.Discover(context.Background(), Target{Chart: c})
			Expect(result.Refs).To(BeEmpty())
			Expect(result.Notes).ToNot(BeEmpty())
			Expect(result.Notes[0]).To(ContainSubstring(errors.ErrMalformedAnnotation.Error()))
		})
	})

	ginkgo.Context("value-tree strategy", func() {
		ginkgo.It("should tolerate a repository without a tag", func() {
			c := &chart.Chart{
				Name: "partial", Version: "1.0.0", Path: "partial",
				Values: map[string]interface{}{
					"image": map[string]interface{}{"repository": "nginx"},
				},
			}

			result := valuesStrategy{}.Discover(context.Background(), Target{Chart: c})
			Expect(result.Refs).To(HaveLen(1))
			Expect(result.Refs[0].Tag).To(Equal("latest"))
		})

		ginkgo.It("should join registry, repository, and tag", func() {
			c := &chart.Chart{
				Name: "full", Version: "1.0.0", Path: "full",
				Values: map[string]interface{}{
					"controllerImage": map[string]interface{}{
						"registry":   "registry.example.com",
						"repository": "app/controller",
						"tag":        "v2.1",
					},
				},
			}

			result := valuesStrategy{}.Discover(context.Background(), Target{Chart: c})
			Expect(result.Refs).To(HaveLen(1))
			Expect(result.Refs[0].Normalized()).To(Equal("registry.example.com/app/controller:v2.1"))
		})

		ginkgo.It("should ignore image-shaped maps without a repository", func() {
			c := &chart.Chart{
				Name: "norep", Version: "1.0.0", Path: "norep",
				Values: map[string]interface{}{
					"image": map[string]interface{}{"tag": "v1"},
				},
			}

			result := valuesStrategy{}.Discover(context.Background(), Target{Chart: c})
			Expect(result.Refs).To(BeEmpty())
		})
	})

	ginkgo.Context("rendered-output strategy", func() {
		ginkgo.It("should find image fields at any depth across documents", func() {
			rendered := `
apiVersion: v1
kind: Pod
spec:
  containers:
    - name: one
      image: quay.io/acme/one:v1
---
apiVersion: apps/v1
kind: Deployment
spec:
  template:
    spec:
      initContainers:
        - name: two
          image: quay.io/acme/two:v2
`
			c := &chart.Chart{Name: "r", Version: "1.0.0", Path: "r"}
			result := renderedStrategy{}.Discover(context.Background(), Target{Chart: c, Rendered: rendered})
			Expect(result.Refs).To(HaveLen(2))
		})

		ginkgo.It("should skip undecodable documents and keep going", func() {
			rendered := "not: [valid: yaml\n---\nspec:\n  image: nginx:1.25\n"
			c := &chart.Chart{Name: "r", Version: "1.0.0", Path: "r"}
			result := renderedStrategy{}.Discover(context.Background(), Target{Chart: c, Rendered: rendered})
			Expect(result.Refs).To(HaveLen(1))
			Expect(result.Notes).ToNot(BeEmpty())
		})
	})
})
