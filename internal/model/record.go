package model

import "time"

// ProcessingRecord is the durable outcome of considering one message.
// Records are append-only: exactly one exists per MessageID and it is
// never updated or deleted once written.
type ProcessingRecord struct {
	// ID is the auto-assigned row identifier.
	ID int64 `json:"id" db:"id"`

	// RunID identifies the ingestion run that wrote this record.
	RunID string `json:"run_id" db:"run_id"`

	// UserID is the mailbox owner the message was read from.
	UserID string `json:"user_id" db:"user_id"`

	// MessageID is the mailbox-unique message identifier and the
	// ledger's dedup key.
	MessageID string `json:"message_id" db:"message_id"`

	// HistoryID is the provider's mailbox version marker at fetch time.
	// It is provenance only and never used for dedup.
	HistoryID uint64 `json:"history_id" db:"history_id"`

	// Subject is the message subject, verbatim.
	Subject string `json:"subject" db:"email_subject"`

	// SenderEmail is the address parsed from the From header, or empty
	// when the header carried no usable address.
	SenderEmail string `json:"sender_email" db:"sender_id"`

	SubjectMatched    bool `json:"subject_matched" db:"valid_subject"`
	SenderValid       bool `json:"sender_valid" db:"valid_sender"`
	AttachmentPresent bool `json:"attachment_present" db:"attachment_present"`

	// EmailValid is true when the message was actionable and its
	// attachment was extracted.
	EmailValid bool `json:"email_valid" db:"valid_email"`

	// AttachmentID is the provider's opaque attachment reference.
	AttachmentID string `json:"attachment_id" db:"attachment_id"`

	// CreatedOn is assigned by the ledger store on insert.
	CreatedOn time.Time `json:"created_on" db:"created_on"`
}

// DeferredMessage tracks a message whose processing failed transiently
// and must be retried by a later run.
type DeferredMessage struct {
	MessageID string    `json:"message_id" db:"message_id"`
	Stage     string    `json:"stage" db:"stage"`
	LastError string    `json:"last_error" db:"last_error"`
	Attempts  int       `json:"attempts" db:"attempts"`
	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`
}
