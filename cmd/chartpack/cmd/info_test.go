package cmd

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opdev/chartpack/internal/bundle"
	"github.com/opdev/chartpack/internal/chart"
	"github.com/opdev/chartpack/internal/discover"
	"github.com/opdev/chartpack/internal/image"
)

type stubSaver struct{}

func (stubSaver) Save(_ context.Context, _ image.Reference, dest string) error {
	return os.WriteFile(dest, []byte("image-tarball"), 0o644)
}

var _ = Describe("info command", func() {
	BeforeEach(createAndCleanupDirForArtifactsAndLogs)

	Context("against an assembled bundle", func() {
		It("should print the manifest contents", func() {
			c, err := chart.Load("./testdata/sample-chart")
			Expect(err).ToNot(HaveOccurred())

			inventory := discover.NewInventory()
			ref, err := image.Parse("nginx:1.25")
			Expect(err).ToNot(HaveOccurred())
			inventory.Add(*ref, discover.StrategyValues, "sample-chart")

			assembler := bundle.NewAssembler(bundle.WithImageSaver(stubSaver{}))
			result, err := assembler.Assemble(context.Background(), bundle.AssembleInput{
				Chart:     c,
				Inventory: inventory,
				OutputDir: GinkgoT().TempDir(),
			})
			Expect(err).ToNot(HaveOccurred())

			out, err := executeCommand(rootCmd(), "info", result.ArchivePath)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("sample-chart"))
			Expect(out).To(ContainSubstring("0.1.0"))
			Expect(out).To(ContainSubstring("docker.io/library/nginx:1.25"))
		})
	})

	Context("against a file that is not a bundle", func() {
		It("should fail", func() {
			junk := GinkgoT().TempDir() + "/junk.tgz"
			Expect(os.WriteFile(junk, []byte("junk"), 0o644)).To(Succeed())

			_, err := executeCommand(rootCmd(), "info", junk)
			Expect(err).To(HaveOccurred())
		})
	})
})
