package cmd

import (
	"bytes"
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/opdev/chartpack/artifacts"
	"github.com/opdev/chartpack/internal/runtime"
	"github.com/opdev/chartpack/internal/viper"
)

// executeCommand is used for cobra command testing. It is effectively what's seen here:
// https://github.com/spf13/cobra/blob/master/command_test.go#L34-L43. It should only
// be used in tests. Typically, you should pass rootCmd as the param for root, and your
// subcommand's invocation within args.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.ExecuteContext(context.Background())

	return buf.String(), err
}

var _ = Describe("cmd package utility functions", func() {
	Describe("Get the root command", func() {
		Context("when calling the root command function", func() {
			It("should return a root command with every subcommand attached", func() {
				cmd := rootCmd()
				Expect(cmd).ToNot(BeNil())

				names := []string{}
				for _, sub := range cmd.Commands() {
					names = append(names, sub.Name())
				}
				Expect(names).To(ContainElements("analyze", "bundle", "import-bundle", "info", "test-harbor"))
			})
		})
	})

	Describe("Initialize Viper configuration", func() {
		Context("when initConfig() is called", func() {
			Context("and no envvars are set", func() {
				It("should have defaults set correctly", func() {
					v := viper.Instance()
					initConfig(v)
					Expect(v.GetString("artifacts")).To(Equal(artifacts.DefaultArtifactsDir))
					Expect(v.GetString("logfile")).To(Equal(DefaultLogFile))
					Expect(v.GetString("loglevel")).To(Equal(DefaultLogLevel))
				})
			})
			Context("and envvars are set", func() {
				BeforeEach(func() {
					os.Setenv("CHARTPACK_LOGFILE", "/tmp/foo.log")
					os.Setenv("CHARTPACK_LOGLEVEL", "trace")
				})
				It("should have overrides in place", func() {
					v := viper.Instance()
					initConfig(v)
					Expect(v.GetString("artifacts")).To(Equal(artifacts.DefaultArtifactsDir))
					Expect(v.GetString("logfile")).To(Equal("/tmp/foo.log"))
					Expect(v.GetString("loglevel")).To(Equal("trace"))
				})
				AfterEach(func() {
					os.Unsetenv("CHARTPACK_LOGFILE")
					os.Unsetenv("CHARTPACK_LOGLEVEL")
				})
			})
		})
	})

	Describe("Platform flag defaults", func() {
		Context("when no platform is given", func() {
			It("should fall back to the default pull architecture", func() {
				Expect(bundleCmd().Flags().Lookup("platform").DefValue).To(Equal(runtime.DefaultPlatform))
				Expect(importBundleCmd().Flags().Lookup("platform").DefValue).To(Equal(runtime.DefaultPlatform))
			})
		})
	})

	Describe("Registry host normalization", func() {
		DescribeTable("stripping schemes and trailing slashes",
			func(input, expected string) {
				Expect(registryHost(input)).To(Equal(expected))
			},
			Entry("bare host", "harbor.internal", "harbor.internal"),
			Entry("https scheme", "https://harbor.internal", "harbor.internal"),
			Entry("http scheme with port and slash", "http://harbor.internal:8080/", "harbor.internal:8080"),
		)
	})
})
