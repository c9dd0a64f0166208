package eventstream_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgeco/companion/pkg/document"
	"github.com/knowledgeco/companion/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("builds a status event with identity and timestamp", func() {
		event := eventstream.NewStatusChanged("doc-1", document.StatusProcessing, document.StatusFailed, "extraction failed")

		Expect(event.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(event.EventType).To(Equal(eventstream.EventTypeStatusChanged))
		Expect(event.EventID).NotTo(BeEmpty())
		Expect(event.EmittedAt).NotTo(BeZero())
		Expect(event.DocumentID).To(Equal("doc-1"))
		Expect(event.OldStatus).To(Equal(document.StatusProcessing))
		Expect(event.NewStatus).To(Equal(document.StatusFailed))
		Expect(event.Reason).To(Equal("extraction failed"))
	})

	It("assigns unique event IDs", func() {
		a := eventstream.NewStatusChanged("doc-1", document.StatusLocal, document.StatusUploading, "")
		b := eventstream.NewStatusChanged("doc-1", document.StatusLocal, document.StatusUploading, "")
		Expect(a.EventID).NotTo(Equal(b.EventID))
	})

	It("marshals with expected top-level keys", func() {
		event := eventstream.NewStatusChanged("doc-1", document.StatusProcessing, document.StatusReady, "")

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("document_id"))
		Expect(got).To(HaveKey("old_status"))
		Expect(got).To(HaveKey("new_status"))
		Expect(got).NotTo(HaveKey("reason"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeStatusChanged).To(Equal("companion.document.status_changed"))
	})
})
