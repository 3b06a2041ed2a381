package sink

import (
	"context"
	"fmt"

	"github.com/nhle/mailingest/internal/classify"
)

// DocumentUploader is the upload capability UploadSink needs.
type DocumentUploader interface {
	UploadDocument(ctx context.Context, applicantID, category, docType, filename string, data []byte) (int, error)
}

// Fallback classification for documents whose subject names no phrase.
const (
	defaultCategory = "other"
	defaultType     = "other"
)

// UploadSink forwards documents to the upload service.
type UploadSink struct {
	uploader     DocumentUploader
	applicantIDs map[string]string
	phrases      []classify.Phrase
}

var _ Sink = (*UploadSink)(nil)

// NewUploadSink returns a sink uploading through uploader.
// applicantIDs maps sender addresses to applicant ids.
func NewUploadSink(uploader DocumentUploader, applicantIDs map[string]string, phrases []classify.Phrase) *UploadSink {
	if phrases == nil {
		phrases = classify.DefaultPhrases
	}
	return &UploadSink{uploader: uploader, applicantIDs: applicantIDs, phrases: phrases}
}

func (s *UploadSink) Name() string { return "upload" }

// Deliver uploads doc. Any non-2xx response is an error.
func (s *UploadSink) Deliver(ctx context.Context, doc Document) error {
	category, docType := s.classify(doc)

	status, err := s.uploader.UploadDocument(ctx, s.applicantID(doc.SenderEmail), category, docType, FileName(doc), doc.Data)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("upload of %s returned status %d", doc.MessageID, status)
	}
	return nil
}

func (s *UploadSink) applicantID(sender string) string {
	if id, ok := s.applicantIDs[sender]; ok && id != "" {
		return id
	}
	return sender
}

func (s *UploadSink) classify(doc Document) (string, string) {
	p, ok := classify.LookupPhrase(s.phrases, doc.Phrase)
	if !ok {
		p, ok = classify.MatchPhrase(s.phrases, doc.Subject)
	}
	if !ok {
		return defaultCategory, defaultType
	}
	return p.Category, p.Type
}
