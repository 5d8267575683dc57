//go:build !tesseract

package recognition

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewFactory without tesseract support", func() {
	It("fails when tesseract is selected", func() {
		factory, err := NewFactory(Config{Engine: EngineTesseract})
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, ErrEngineUnavailable)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("-tags tesseract"))
		Expect(factory).To(BeNil())
	})
})
