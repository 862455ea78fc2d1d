package log

import (
	"bytes"
	"errors"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Buffer Sink", func() {
	var (
		buf    *bytes.Buffer
		logger logr.Logger
	)

	BeforeEach(func() {
		buf = bytes.NewBuffer(nil)
		logger = logr.New(NewBufferSink(buf))
	})

	When("writing informational messages", func() {
		It("should capture them in the buffer", func() {
			logger.V(DBG).Info("loading chart", "path", "demo")
			Expect(buf.String()).To(ContainSubstring("loading chart"))
			Expect(buf.String()).To(ContainSubstring("demo"))
		})
	})

	When("writing errors", func() {
		It("should capture the error text", func() {
			logger.Error(errors.New("pull failed"), "skipping image")
			Expect(buf.String()).To(ContainSubstring("pull failed"))
			Expect(buf.String()).To(ContainSubstring("skipping image"))
		})
	})

	When("naming the logger", func() {
		It("should prefix entries with the name", func() {
			logger.WithName("discover").Info("render complete")
			Expect(buf.String()).To(ContainSubstring("discover"))
		})
	})
})
