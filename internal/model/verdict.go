package model

import "time"

// Verdict is the classification of a single message. It is never
// persisted directly; its fields are copied into a ProcessingRecord.
type Verdict struct {
	Subject     string
	SenderEmail string

	// SubjectFiltered reports whether subject matching took part in
	// the decision.
	SubjectFiltered bool
	SubjectMatched  bool

	// Phrase is the recognised phrase that matched the subject.
	Phrase string

	SenderValid   bool
	HasAttachment bool
	Actionable    bool
}

// WithSender returns a copy of v with the sender validity applied and
// Actionable recomputed.
func (v Verdict) WithSender(valid bool) Verdict {
	v.SenderValid = valid && v.SenderEmail != ""
	if v.SubjectFiltered {
		v.Actionable = v.SubjectMatched && v.SenderValid
	} else {
		v.Actionable = v.SenderValid
	}
	return v
}

// Window bounds the message query of one run.
type Window struct {
	// Start is the effective lower bound passed to the mail source.
	Start time.Time

	// End is the wall-clock time the window was computed at.
	End time.Time

	// FromLedger is false when Start fell back to the configured
	// start date because the ledger was empty.
	FromLedger bool
}
