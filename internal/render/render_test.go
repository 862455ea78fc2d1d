package render

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/chart"
)

var _ = Describe("Helm rendering", func() {
	var renderer *HelmRenderer

	BeforeEach(func() {
		renderer = NewHelmRenderer()
	})

	Context("with a chart that renders with default values", func() {
		It("should produce the expanded manifest", func() {
			c, err := chart.Load("./testdata/web-chart")
			Expect(err).ToNot(HaveOccurred())

			manifest, err := renderer.Render(context.Background(), c, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(manifest).To(ContainSubstring("image: \"nginx:1.25\""))
		})
	})

	Context("with a chart gated on required values", func() {
		It("should return a values-required error when they are absent", func() {
			c, err := chart.Load("./testdata/gated-chart")
			Expect(err).ToNot(HaveOccurred())

			_, err = renderer.Render(context.Background(), c, nil)
			Expect(err).To(MatchError(errors.ErrRenderValuesRequired))
		})

		It("should render once the values are supplied", func() {
			c, err := chart.Load("./testdata/gated-chart")
			Expect(err).ToNot(HaveOccurred())

			manifest, err := renderer.Render(context.Background(), c, map[string]interface{}{
				"registry": "quay.io",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(manifest).To(ContainSubstring("quay.io/app:v1"))
		})
	})
})
