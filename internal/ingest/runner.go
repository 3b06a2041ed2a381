// Package ingest drives one ingestion run: compute the window, list
// candidates, and take each message through dedup, classification,
// extraction, delivery and the ledger append.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailingest/internal/classify"
	"github.com/nhle/mailingest/internal/extract"
	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/sink"
	"github.com/nhle/mailingest/internal/source"
	"github.com/nhle/mailingest/internal/store"
)

// WindowSource computes the query window. checkpoint.Store satisfies it.
type WindowSource interface {
	EffectiveWindowStart(ctx context.Context, now time.Time) (model.Window, error)
}

// AttachmentFetcher retrieves decoded attachment bytes.
// extract.Extractor satisfies it.
type AttachmentFetcher interface {
	FetchBytes(ctx context.Context, messageID string, ref model.AttachmentRef) ([]byte, error)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Source     source.Source
	Store      store.Store
	Window     WindowSource
	Classifier *classify.Classifier
	Validator  classify.SenderValidator
	Fetcher    AttachmentFetcher
	Sinks      []sink.Sink
}

// Options tune a Runner.
type Options struct {
	UserID        string
	LabelID       string
	HasAttachment bool
	// MaxAttempts bounds how often a deferred message is retried before
	// a partial record is written for it.
	MaxAttempts int
	// Batch commits all records in one transaction at the end of the run.
	Batch bool
}

// Runner executes ingestion runs. Runs on one Runner must not overlap.
type Runner struct {
	deps Deps
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewRunner returns a Runner.
func NewRunner(deps Deps, opts Options, log logrus.FieldLogger) *Runner {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.New(true, nil)
	}
	return &Runner{deps: deps, opts: opts, log: log, now: time.Now}
}

// run holds the state of a single Run call.
type run struct {
	*Runner
	log      logrus.FieldLogger
	res      *Result
	deferred map[string]int
	pending  []model.ProcessingRecord
}

// Run performs one ingestion pass. It returns an error only for
// failures that make the whole run unsafe: the window cannot be
// computed, candidates cannot be listed, the mail session is no longer
// authorised, or ctx is done. Per-message failures are reflected in
// the Result counters.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Started: r.now()}
	rn := &run{
		Runner:   r,
		log:      r.log.WithField("run_id", res.RunID),
		res:      res,
		deferred: make(map[string]int),
	}
	defer func() { res.Finished = r.now() }()

	window, err := r.deps.Window.EffectiveWindowStart(ctx, res.Started)
	if err != nil {
		return res, stageErr(StageComputeWindow, "", err)
	}
	res.Window = window
	rn.log.WithFields(logrus.Fields{
		"window_start": window.Start.Format(time.RFC3339),
		"window_end":   window.End.Format(time.RFC3339),
		"from_ledger":  window.FromLedger,
	}).Info("computed window")

	ids, err := rn.candidates(ctx, window)
	if err != nil {
		return res, err
	}
	res.Candidates = len(ids)

	if len(ids) == 0 {
		res.NoMessages = true
		rn.log.Info("no messages")
		return res, nil
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			rn.flush(context.WithoutCancel(ctx))
			return res, err
		}
		if err := rn.process(ctx, id); err != nil {
			rn.flush(context.WithoutCancel(ctx))
			return res, err
		}
	}

	rn.flush(ctx)
	res.Finished = r.now()
	rn.log.WithFields(res.Fields()).Info("run finished")
	return res, nil
}

// candidates lists the window's messages followed by any deferred
// messages not already listed.
func (rn *run) candidates(ctx context.Context, window model.Window) ([]string, error) {
	refs, err := rn.deps.Source.ListMessages(ctx, rn.opts.UserID, source.Query{
		After:         window.Start,
		HasAttachment: rn.opts.HasAttachment,
		LabelID:       rn.opts.LabelID,
	})
	if err != nil {
		return nil, stageErr(StageListMessages, "", err)
	}

	deferred, err := rn.deps.Store.DeferredMessages(ctx)
	if err != nil {
		return nil, stageErr(StageLoadDeferred, "", err)
	}

	seen := make(map[string]bool, len(refs)+len(deferred))
	ids := make([]string, 0, len(refs)+len(deferred))
	for _, ref := range refs {
		if ref.ID == "" || seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		ids = append(ids, ref.ID)
	}
	for _, d := range deferred {
		rn.deferred[d.MessageID] = d.Attempts
		if seen[d.MessageID] {
			continue
		}
		seen[d.MessageID] = true
		ids = append(ids, d.MessageID)
	}
	return ids, nil
}

// process takes one message through the pipeline. The returned error
// is fatal for the run; everything else is counted and logged.
func (rn *run) process(ctx context.Context, id string) error {
	log := rn.log.WithField("message_id", id)

	done, err := rn.deps.Store.HasBeenProcessed(ctx, id)
	if err != nil {
		rn.res.Failed++
		log.WithError(stageErr(StageCheckDedup, id, err)).Error("dedup check failed")
		return nil
	}
	if done {
		rn.res.Skipped++
		log.Debug("already processed")
		rn.clearDeferred(ctx, log, id)
		return nil
	}

	rec := model.ProcessingRecord{RunID: rn.res.RunID, UserID: rn.opts.UserID, MessageID: id}

	msg, err := rn.deps.Source.GetMessage(ctx, rn.opts.UserID, id)
	if err != nil {
		return rn.fail(ctx, log, StageGetMessage, rec, err)
	}
	rn.res.Processed++
	rec.HistoryID = msg.HistoryID

	verdict := rn.deps.Classifier.Classify(msg)
	rec = applyVerdict(rec, verdict)

	valid := false
	if verdict.SenderEmail != "" {
		valid, err = rn.deps.Validator.ValidSender(ctx, verdict.SenderEmail)
		if err != nil {
			return rn.fail(ctx, log, StageValidateSender, rec, err)
		}
	}
	verdict = verdict.WithSender(valid)
	rec = applyVerdict(rec, verdict)

	ref, hasRef := extract.LocateAttachment(msg)
	if hasRef {
		rec.AttachmentID = ref.ID
	}

	log = log.WithFields(logrus.Fields{
		"sender":     verdict.SenderEmail,
		"actionable": verdict.Actionable,
	})

	if verdict.Actionable {
		rn.res.Actionable++
		if !hasRef {
			log.Warn("actionable message has no attachment part")
		} else {
			data, err := rn.deps.Fetcher.FetchBytes(ctx, id, ref)
			if err != nil {
				return rn.fail(ctx, log, StageFetchAttachment, rec, err)
			}
			rn.res.Extracted++
			rec.EmailValid = true
			rn.deliver(ctx, log, sink.Document{
				MessageID:   id,
				SenderEmail: verdict.SenderEmail,
				Subject:     verdict.Subject,
				Phrase:      verdict.Phrase,
				Attachment:  ref,
				Data:        data,
			})
		}
	}

	rn.append(ctx, log, rec)
	return nil
}

func applyVerdict(rec model.ProcessingRecord, v model.Verdict) model.ProcessingRecord {
	rec.Subject = v.Subject
	rec.SenderEmail = v.SenderEmail
	rec.SubjectMatched = v.SubjectMatched
	rec.SenderValid = v.SenderValid
	rec.AttachmentPresent = v.HasAttachment
	return rec
}

// fail handles a transient per-message failure. The message is deferred
// to a later run; once it has used up its attempts a partial record is
// appended so it stops being retried. Auth failures abort the run.
func (rn *run) fail(ctx context.Context, log logrus.FieldLogger, stage string, rec model.ProcessingRecord, cause error) error {
	serr := stageErr(stage, rec.MessageID, cause)
	if source.IsAuthError(cause) {
		return serr
	}

	attempts, err := rn.deps.Store.DeferMessage(ctx, rec.MessageID, stage, cause)
	if err != nil {
		rn.res.Failed++
		log.WithError(serr).WithField("defer_error", err.Error()).Error("message failed and could not be deferred")
		return nil
	}

	log = log.WithError(serr).WithFields(logrus.Fields{"stage": stage, "attempts": attempts})
	if attempts < rn.opts.MaxAttempts {
		rn.res.Deferred++
		log.Warn("message deferred")
		return nil
	}

	rn.res.Abandoned++
	rn.deferred[rec.MessageID] = attempts
	log.Error("message abandoned after repeated failures")
	rec.EmailValid = false
	rn.append(ctx, log, rec)
	return nil
}

func (rn *run) deliver(ctx context.Context, log logrus.FieldLogger, doc sink.Document) {
	for _, s := range rn.deps.Sinks {
		if err := s.Deliver(ctx, doc); err != nil {
			rn.res.SinkFailures++
			log.WithError(stageErr(StageDeliver, doc.MessageID, err)).
				WithField("sink", s.Name()).Warn("delivery failed")
			continue
		}
		log.WithField("sink", s.Name()).Info("document delivered")
	}
}

func (rn *run) append(ctx context.Context, log logrus.FieldLogger, rec model.ProcessingRecord) {
	if rn.opts.Batch {
		rn.pending = append(rn.pending, rec)
		return
	}

	inserted, err := rn.deps.Store.Append(ctx, rec)
	if err != nil {
		rn.res.AppendFailures++
		log.WithError(stageErr(StageAppendLedger, rec.MessageID, err)).Error("ledger append failed")
		return
	}
	if !inserted {
		rn.res.Duplicates++
		log.Info("record already written by another run")
	} else {
		rn.res.Appended++
	}
	rn.clearDeferred(ctx, log, rec.MessageID)
}

// flush commits batched records.
func (rn *run) flush(ctx context.Context) {
	if len(rn.pending) == 0 {
		return
	}
	recs := rn.pending
	rn.pending = nil

	inserted, err := rn.deps.Store.AppendBatch(ctx, recs)
	if err != nil {
		rn.res.AppendFailures += len(recs)
		rn.log.WithError(stageErr(StageAppendLedger, "", err)).
			WithField("records", len(recs)).Error("ledger batch append failed")
		return
	}
	rn.res.Appended += inserted
	rn.res.Duplicates += len(recs) - inserted

	for _, rec := range recs {
		rn.clearDeferred(ctx, rn.log.WithField("message_id", rec.MessageID), rec.MessageID)
	}
}

func (rn *run) clearDeferred(ctx context.Context, log logrus.FieldLogger, id string) {
	if _, ok := rn.deferred[id]; !ok {
		return
	}
	if err := rn.deps.Store.ClearDeferred(ctx, id); err != nil {
		log.WithError(stageErr(StageDefer, id, err)).Warn("clearing deferral failed")
		return
	}
	delete(rn.deferred, id)
}
