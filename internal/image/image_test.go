package image

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reference parsing", func() {
	Context("with a bare repository and tag", func() {
		It("should assume the default registry", func() {
			ref, err := Parse("nginx:1.25")
			Expect(err).ToNot(HaveOccurred())
			Expect(ref.Registry).To(Equal("docker.io"))
			Expect(ref.Repository).To(Equal("library/nginx"))
			Expect(ref.Tag).To(Equal("1.25"))
			Expect(ref.Name).To(Equal("nginx"))
			Expect(ref.FullReference).To(Equal("nginx:1.25"))
		})
	})

	Context("with no tag", func() {
		It("should assume the latest tag", func() {
			ref, err := Parse("quay.io/opdev/tool")
			Expect(err).ToNot(HaveOccurred())
			Expect(ref.Registry).To(Equal("quay.io"))
			Expect(ref.Tag).To(Equal("latest"))
		})
	})

	Context("with a digest", func() {
		It("should preserve the digest in the normalized form", func() {
			ref, err := Parse("quay.io/opdev/tool@sha256:575e635e44ccfad6ebe36ec4d8289f725b2a461e67fd755a28c2ff67f5c64f54")
			Expect(err).ToNot(HaveOccurred())
			Expect(ref.Digest).To(HavePrefix("sha256:"))
			Expect(ref.Normalized()).To(ContainSubstring("@sha256:"))
		})
	})

	Context("with surrounding quotes", func() {
		It("should strip them before parsing", func() {
			ref, err := Parse(`"registry.example.com/app/api:v2"`)
			Expect(err).ToNot(HaveOccurred())
			Expect(ref.Registry).To(Equal("registry.example.com"))
			Expect(ref.Repository).To(Equal("app/api"))
			Expect(ref.FullReference).To(Equal("registry.example.com/app/api:v2"))
		})
	})

	Context("with an unresolved template expression", func() {
		It("should be rejected", func() {
			_, err := Parse("{{ .Values.image.repository }}:{{ .Values.image.tag }}")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("with an empty string", func() {
		It("should be rejected", func() {
			_, err := Parse("  ")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Reference normalization", func() {
	It("should produce equal forms for references naming the same image", func() {
		a, err := Parse("nginx:1.25")
		Expect(err).ToNot(HaveOccurred())
		b, err := Parse("docker.io/library/nginx:1.25")
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Normalized()).To(Equal(b.Normalized()))
	})

	It("should distinguish tags", func() {
		a, err := Parse("nginx:1.25")
		Expect(err).ToNot(HaveOccurred())
		b, err := Parse("nginx:1.26")
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Normalized()).ToNot(Equal(b.Normalized()))
	})
})
