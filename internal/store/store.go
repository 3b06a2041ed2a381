package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailingest/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Ledger is the durable processing history. Records are append-only and
// unique per message id.
type Ledger interface {
	// HasBeenProcessed reports whether a record exists for messageID.
	HasBeenProcessed(ctx context.Context, messageID string) (bool, error)

	// Append persists rec. It returns false without error when a record
	// for the same message id already exists, which happens when two
	// runs overlap.
	Append(ctx context.Context, rec model.ProcessingRecord) (bool, error)

	// AppendBatch persists recs in one transaction with the same
	// duplicate semantics as Append, returning how many were inserted.
	AppendBatch(ctx context.Context, recs []model.ProcessingRecord) (int, error)

	// MaxCreatedOn returns the latest created_on, or ok=false when the
	// ledger is empty.
	MaxCreatedOn(ctx context.Context) (t time.Time, ok bool, err error)

	GetRecord(ctx context.Context, messageID string) (*model.ProcessingRecord, error)
	ListRecords(ctx context.Context, limit int) ([]model.ProcessingRecord, error)
}

// Deferrals tracks messages whose processing failed transiently.
type Deferrals interface {
	// DeferMessage records a failed attempt and returns the attempt count.
	DeferMessage(ctx context.Context, messageID, stage string, cause error) (int, error)
	DeferredMessages(ctx context.Context) ([]model.DeferredMessage, error)
	ClearDeferred(ctx context.Context, messageID string) error
}

// Store is everything the ingestion run needs from persistence.
type Store interface {
	Ledger
	Deferrals
}
