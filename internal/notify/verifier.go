package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nhle/mailingest/internal/classify"
)

// Verifier asks the remote verification service whether a sender is
// known.
type Verifier struct {
	client  *Client
	baseURL string
}

var _ classify.SenderValidator = (*Verifier)(nil)

// NewVerifier returns a Verifier calling GET baseURL?eid=<email>.
func NewVerifier(client *Client, baseURL string) *Verifier {
	return &Verifier{client: client, baseURL: baseURL}
}

// ValidSender reports whether the service accepts email. A 404 means
// unknown; any other non-2xx status is an error.
func (v *Verifier) ValidSender(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}

	target, err := url.Parse(v.baseURL)
	if err != nil {
		return false, fmt.Errorf("parsing verification url: %w", err)
	}
	q := target.Query()
	q.Set("eid", email)
	target.RawQuery = q.Encode()

	resp, err := v.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return false, fmt.Errorf("verifying sender %s: %w", email, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, fmt.Errorf("verifying sender %s: %w", email, &StatusError{
			Method: http.MethodGet, URL: target.Redacted(), StatusCode: resp.StatusCode, Body: string(resp.Body),
		})
	}
	return truthy(resp.Body), nil
}

// truthy interprets a verification response body. A JSON object's
// "valid" field wins; otherwise empty, false, 0 and null are false and
// anything else is true.
func truthy(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return false
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return !falsy(string(body))
	}

	switch v := decoded.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return !falsy(v)
	case map[string]any:
		if valid, ok := v["valid"].(bool); ok {
			return valid
		}
		return len(v) > 0
	case []any:
		return len(v) > 0
	}
	return true
}

func falsy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "null":
		return true
	}
	return false
}
