package chart

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Chart loading", func() {
	Context("from a chart directory", func() {
		It("should load metadata, values, and sub-charts", func() {
			c, err := Load("./testdata/simple-chart")
			Expect(err).ToNot(HaveOccurred())
			Expect(c.Name).To(Equal("simple-chart"))
			Expect(c.Version).To(Equal("0.1.0"))
			Expect(c.Values).To(HaveKey("image"))
			Expect(c.Annotations).To(HaveKey("artifacthub.io/images"))

			Expect(c.Dependencies).To(HaveLen(1))
			sub := c.Dependencies[0]
			Expect(sub.Name).To(Equal("sub-chart"))
			Expect(sub.Version).To(Equal("0.2.0"))
			Expect(sub.Path).To(ContainSubstring("charts/sub-chart"))
		})

		It("should expose raw template sources for the node only", func() {
			c, err := Load("./testdata/simple-chart")
			Expect(err).ToNot(HaveOccurred())
			Expect(c.RawTemplates()).To(HaveLen(1))
			Expect(c.RawTemplates()[0].Name).To(Equal("templates/deployment.yaml"))
		})
	})

	Context("from an unsupported source", func() {
		It("should reject remote locators", func() {
			_, err := Load("oci://registry.example.com/charts/foo")
			Expect(err).To(HaveOccurred())
		})

		It("should reject an empty locator", func() {
			_, err := Load("")
			Expect(err).To(HaveOccurred())
		})

		It("should reject a missing path", func() {
			_, err := Load("./testdata/does-not-exist")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Chart identity", func() {
	It("should distinguish the same chart at different locators", func() {
		c, err := Load("./testdata/simple-chart")
		Expect(err).ToNot(HaveOccurred())
		other := *c
		other.Path = "/elsewhere/simple-chart"
		Expect(c.Identity()).ToNot(Equal(other.Identity()))
	})
})
