package source

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryString(t *testing.T) {
	after := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "has:attachment after:1672531200", Query{After: after, HasAttachment: true}.String())
	assert.Equal(t, "after:1672531200", Query{After: after, LabelID: "Label_1"}.String())
	assert.Equal(t, "has:attachment", Query{HasAttachment: true}.String())
	assert.Equal(t, "", Query{}.String())
}

func TestIsAuthError(t *testing.T) {
	err := fmt.Errorf("listing: %w", &AuthError{Provider: "gmail", Message: "token expired"})
	assert.True(t, IsAuthError(err))
	assert.EqualError(t, err, "listing: auth error (gmail): token expired")
	assert.False(t, IsAuthError(fmt.Errorf("boom")))
}
