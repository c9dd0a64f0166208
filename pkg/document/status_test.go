package document_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgeco/companion/pkg/document"
)

var _ = Describe("ProcessingStatus", func() {
	Describe("Valid", func() {
		It("accepts the five known statuses", func() {
			for _, s := range []document.ProcessingStatus{
				document.StatusLocal,
				document.StatusUploading,
				document.StatusProcessing,
				document.StatusReady,
				document.StatusFailed,
			} {
				Expect(s.Valid()).To(BeTrue(), string(s))
			}
		})

		It("rejects unknown statuses", func() {
			Expect(document.ProcessingStatus("").Valid()).To(BeFalse())
			Expect(document.ProcessingStatus("pending").Valid()).To(BeFalse())
		})
	})

	Describe("Terminal", func() {
		It("marks ready and failed as terminal", func() {
			Expect(document.StatusReady.Terminal()).To(BeTrue())
			Expect(document.StatusFailed.Terminal()).To(BeTrue())
			Expect(document.StatusLocal.Terminal()).To(BeFalse())
			Expect(document.StatusUploading.Terminal()).To(BeFalse())
			Expect(document.StatusProcessing.Terminal()).To(BeFalse())
		})
	})

	Describe("Transition", func() {
		It("walks the happy path", func() {
			s := document.StatusLocal
			for _, next := range []document.ProcessingStatus{
				document.StatusUploading,
				document.StatusProcessing,
				document.StatusReady,
			} {
				var err error
				s, err = s.Transition(next)
				Expect(err).NotTo(HaveOccurred())
				Expect(s).To(Equal(next))
			}
		})

		It("allows uploading and processing to fail", func() {
			_, err := document.StatusUploading.Transition(document.StatusFailed)
			Expect(err).NotTo(HaveOccurred())
			_, err = document.StatusProcessing.Transition(document.StatusFailed)
			Expect(err).NotTo(HaveOccurred())
		})

		It("allows terminal documents to start a fresh attempt", func() {
			_, err := document.StatusReady.Transition(document.StatusProcessing)
			Expect(err).NotTo(HaveOccurred())
			_, err = document.StatusFailed.Transition(document.StatusProcessing)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects skipping states", func() {
			_, err := document.StatusLocal.Transition(document.StatusProcessing)
			Expect(err).To(MatchError(ContainSubstring("illegal status transition")))

			_, err = document.StatusLocal.Transition(document.StatusReady)
			Expect(err).To(HaveOccurred())

			_, err = document.StatusUploading.Transition(document.StatusReady)
			Expect(err).To(HaveOccurred())
		})

		It("rejects moving terminal documents anywhere but processing", func() {
			_, err := document.StatusReady.Transition(document.StatusFailed)
			Expect(err).To(HaveOccurred())

			_, err = document.StatusFailed.Transition(document.StatusReady)
			Expect(err).To(HaveOccurred())
		})

		It("rejects unknown target statuses and keeps the current state", func() {
			got, err := document.StatusLocal.Transition("archived")
			Expect(err).To(MatchError(ContainSubstring("unknown status")))
			Expect(got).To(Equal(document.StatusLocal))
		})
	})
})

var _ = Describe("Type", func() {
	It("accepts known document types", func() {
		Expect(document.TypePDF.Valid()).To(BeTrue())
		Expect(document.TypeWebPage.Valid()).To(BeTrue())
		Expect(document.TypeEPUB.Valid()).To(BeTrue())
	})

	It("rejects unknown types", func() {
		Expect(document.Type("docx").Valid()).To(BeFalse())
		Expect(document.Type("").Valid()).To(BeFalse())
	})
})
