package runtime

import (
	"github.com/spf13/viper"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Runtime configuration", func() {
	Context("built from viper-stored values", func() {
		It("should map every stored key", func() {
			v := viper.New()
			v.Set("logfile", "chartpack.log")
			v.Set("artifacts", "artifacts")
			v.Set("dockerConfig", "/tmp/config.json")
			v.Set("output", "/tmp/out")
			v.Set("no_images", true)
			v.Set("include_signatures", true)
			v.Set("platform", "arm64")
			v.Set("insecure", true)
			v.Set("discovery_workers", 8)
			v.Set("push_workers", 2)
			v.Set("harbor_url", "harbor.internal")
			v.Set("harbor_user", "admin")
			v.Set("harbor_password", "secret")
			v.Set("project", "demo")

			cfg, err := NewConfigFrom(*v)
			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.LogFile).To(Equal("chartpack.log"))
			Expect(cfg.Artifacts).To(Equal("artifacts"))
			Expect(cfg.DockerConfig).To(Equal("/tmp/config.json"))
			Expect(cfg.OutputDir).To(Equal("/tmp/out"))
			Expect(cfg.NoImages).To(BeTrue())
			Expect(cfg.IncludeSigs).To(BeTrue())
			Expect(cfg.Platform).To(Equal("arm64"))
			Expect(cfg.Insecure).To(BeTrue())
			Expect(cfg.DiscoveryWorkers).To(Equal(8))
			Expect(cfg.PushWorkers).To(Equal(2))
			Expect(cfg.HarborURL).To(Equal("harbor.internal"))
			Expect(cfg.HarborUser).To(Equal("admin"))
			Expect(cfg.HarborPassword).To(Equal("secret"))
			Expect(cfg.Project).To(Equal("demo"))
		})

		It("should satisfy the crane configuration surface", func() {
			cfg := Config{Platform: "amd64", DockerConfig: "cfg.json", Insecure: true}
			Expect(cfg.CranePlatform()).To(Equal("amd64"))
			Expect(cfg.CraneDockerConfig()).To(Equal("cfg.json"))
			Expect(cfg.CraneInsecure()).To(BeTrue())
		})
	})
})
