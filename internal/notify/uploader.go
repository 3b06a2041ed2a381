package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
)

// Uploader posts extracted documents to the upload service.
type Uploader struct {
	client *Client
	url    string
}

// NewUploader returns an Uploader posting to url.
func NewUploader(client *Client, url string) *Uploader {
	return &Uploader{client: client, url: url}
}

// UploadDocument posts data as a multipart form and returns the
// response status. Non-2xx responses are returned as a *StatusError.
func (u *Uploader) UploadDocument(ctx context.Context, applicantID, category, docType, filename string, data []byte) (int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"loan_applicant_id", applicantID},
		{"document_category", category},
		{"document_type", docType},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return 0, fmt.Errorf("writing field %s: %w", f.name, err)
		}
	}

	part, err := w.CreateFormFile("image_data", filename)
	if err != nil {
		return 0, fmt.Errorf("creating file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return 0, fmt.Errorf("writing file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("closing multipart body: %w", err)
	}

	payload := buf.Bytes()
	contentType := w.FormDataContentType()

	resp, err := u.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return status, fmt.Errorf("uploading %s for %s: %w", filename, applicantID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("uploading %s for %s: %w", filename, applicantID, &StatusError{
			Method: http.MethodPost, URL: u.url, StatusCode: resp.StatusCode, Body: string(resp.Body),
		})
	}
	return resp.StatusCode, nil
}
