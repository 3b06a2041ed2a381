package model

import "time"

// Header is one name/value pair as delivered by the mail source.
// Names are not unique within a message.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Part is one direct body part of a message. Nested multiparts are
// not expanded.
type Part struct {
	PartID   string `json:"part_id"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`

	// AttachmentID is the provider's reference for fetching the part's
	// payload. Empty when the part carries no attachment.
	AttachmentID string `json:"attachment_id"`
}

// Message is a fetched mail item with its headers and top-level parts.
type Message struct {
	ID           string    `json:"id"`
	HistoryID    uint64    `json:"history_id"`
	InternalDate time.Time `json:"internal_date"`
	Headers      []Header  `json:"headers"`
	Parts        []Part    `json:"parts"`
}

// MessageRef is a lightweight handle returned by message listings.
type MessageRef struct {
	ID string `json:"id"`
}

// AttachmentRef locates an attachment payload within a message.
type AttachmentRef struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
	MIMEType  string `json:"mime_type"`
}
