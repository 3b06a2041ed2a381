package ingest

import "fmt"

// Stages of a run, used in logs and StageError.
const (
	StageComputeWindow   = "compute_window"
	StageListMessages    = "list_messages"
	StageLoadDeferred    = "load_deferred"
	StageCheckDedup      = "check_dedup"
	StageGetMessage      = "get_message"
	StageValidateSender  = "validate_sender"
	StageFetchAttachment = "fetch_attachment"
	StageDeliver         = "deliver"
	StageAppendLedger    = "append_ledger"
	StageDefer           = "defer"
)

// StageError ties a failure to the run stage and message it came from.
// MessageID is empty for run-level stages.
type StageError struct {
	Stage     string
	MessageID string
	Err       error
}

func (e *StageError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.MessageID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage, messageID string, err error) *StageError {
	return &StageError{Stage: stage, MessageID: messageID, Err: err}
}
