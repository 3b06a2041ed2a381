package mimemsg

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMessage = "From: John Doe <john@x.com>\r\n" +
	"Subject: =?UTF-8?Q?Bank_Statement?=\r\n" +
	"Message-Id: <abc@x.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"see attached\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf; name=\"march.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"march.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"aGVsbG8=\r\n" +
	"--XYZ--\r\n"

func TestParse_Multipart(t *testing.T) {
	msg, err := Parse("m1", []byte(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "m1", msg.ID)
	require.GreaterOrEqual(t, len(msg.Headers), 3)
	assert.Equal(t, "From", msg.Headers[0].Name)
	assert.Equal(t, "John Doe <john@x.com>", msg.Headers[0].Value)
	assert.Equal(t, "Subject", msg.Headers[1].Name)
	assert.Equal(t, "Bank Statement", msg.Headers[1].Value)

	require.Len(t, msg.Parts, 2)
	assert.Empty(t, msg.Parts[0].AttachmentID)
	assert.Equal(t, "text/plain", msg.Parts[0].MIMEType)
	assert.Equal(t, "1", msg.Parts[1].AttachmentID)
	assert.Equal(t, "march.pdf", msg.Parts[1].Filename)
	assert.Equal(t, "application/pdf", msg.Parts[1].MIMEType)
}

func TestParse_SinglePart(t *testing.T) {
	raw := "From: <a@x.com>\r\nSubject: hi\r\n\r\nbody\r\n"

	msg, err := Parse("m2", []byte(raw))
	require.NoError(t, err)
	assert.Len(t, msg.Headers, 2)
	assert.Empty(t, msg.Parts)
}

func TestPartBody(t *testing.T) {
	body, err := PartBody([]byte(multipartMessage), "1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	encoded, err := EncodedPartBody([]byte(multipartMessage), "1")
	require.NoError(t, err)
	assert.Equal(t, base64.URLEncoding.EncodeToString([]byte("hello")), encoded)
}

func TestPartBody_Missing(t *testing.T) {
	for _, id := range []string{"7", "-1", "x"} {
		_, err := PartBody([]byte(multipartMessage), id)
		assert.ErrorIs(t, err, ErrPartNotFound, id)
	}

	_, err := PartBody([]byte(strings.ReplaceAll("From: a\r\n\r\nbody", "\n", "\r\n")), "0")
	assert.ErrorIs(t, err, ErrPartNotFound)
}
