// Package mimemsg converts raw RFC 5322 messages into model.Message
// values shaped like the Gmail API's: ordered headers and the direct
// parts of the top-level multipart, with attachment ids equal to the
// part index.
package mimemsg

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/nhle/mailingest/internal/model"
)

// ErrPartNotFound is returned when an attachment id names no part.
var ErrPartNotFound = errors.New("part not found")

// Parse reads raw and returns its headers and direct parts under id.
func Parse(id string, raw []byte) (*model.Message, error) {
	e, err := read(raw)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{ID: id}

	fields := e.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Headers = append(msg.Headers, model.Header{
			Name:  textproto.CanonicalMIMEHeaderKey(fields.Key()),
			Value: value,
		})
	}

	mr := e.MultipartReader()
	if mr == nil {
		return msg, nil
	}
	defer mr.Close()

	for i := 0; ; i++ {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading part %d of %s: %w", i, id, err)
		}
		msg.Parts = append(msg.Parts, describePart(i, p))
	}

	return msg, nil
}

// PartBody returns the decoded body of the direct part partID.
func PartBody(raw []byte, partID string) ([]byte, error) {
	idx, err := strconv.Atoi(partID)
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("part %q: %w", partID, ErrPartNotFound)
	}

	e, err := read(raw)
	if err != nil {
		return nil, err
	}
	mr := e.MultipartReader()
	if mr == nil {
		return nil, fmt.Errorf("part %q of single-part message: %w", partID, ErrPartNotFound)
	}
	defer mr.Close()

	for i := 0; ; i++ {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("part %q: %w", partID, ErrPartNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("reading part %d: %w", i, err)
		}
		if i == idx {
			return io.ReadAll(p.Body)
		}
	}
}

// EncodedPartBody is PartBody in the URL-safe base64 form mail sources
// hand out.
func EncodedPartBody(raw []byte, partID string) (string, error) {
	body, err := PartBody(raw, partID)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(body), nil
}

func read(raw []byte) (*message.Entity, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	return e, nil
}

func describePart(i int, p *message.Entity) model.Part {
	part := model.Part{PartID: strconv.Itoa(i)}

	mediaType, ctParams, _ := p.Header.ContentType()
	part.MIMEType = mediaType

	disp, dispParams, _ := p.Header.ContentDisposition()
	part.Filename = dispParams["filename"]
	if part.Filename == "" {
		part.Filename = ctParams["name"]
	}

	if part.Filename != "" || strings.EqualFold(disp, "attachment") {
		part.AttachmentID = part.PartID
	}
	return part
}
