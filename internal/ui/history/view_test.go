package history

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/mailingest/internal/model"
)

func TestRender(t *testing.T) {
	out := Render([]model.ProcessingRecord{
		{
			MessageID:      "18c2f",
			SenderEmail:    "john@x.com",
			Subject:        "Bank Statement",
			SubjectMatched: true,
			SenderValid:    true,
			EmailValid:     true,
			CreatedOn:      time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		},
		{MessageID: "18c30", SenderEmail: "mallory@evil.com", Subject: "hi"},
	})

	assert.Contains(t, out, "MESSAGE")
	assert.Contains(t, out, "18c2f")
	assert.Contains(t, out, "2024-05-01 09:30:00")
	assert.Contains(t, out, "mallory@evil.com")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "no")
}

func TestRender_Empty(t *testing.T) {
	out := Render(nil)
	assert.Contains(t, out, "CREATED")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	long := strings.Repeat("é", 60)
	got := truncate(long, 10)
	assert.Equal(t, 10, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
