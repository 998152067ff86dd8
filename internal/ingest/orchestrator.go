// Package ingest runs mailbox scans: locate order messages, download their
// documents and turn them into prescription records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/recetas-tracker/constants"
	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/entity"
	"github.com/joseph-ayodele/recetas-tracker/internal/mailbox"
	"github.com/joseph-ayodele/recetas-tracker/internal/pipeline"
	"github.com/joseph-ayodele/recetas-tracker/internal/repository"
	"github.com/joseph-ayodele/recetas-tracker/internal/scanlock"
	"github.com/joseph-ayodele/recetas-tracker/internal/storage"
)

type CredentialStore interface {
	Get(ctx context.Context, userID uuid.UUID) (string, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type RecordStore interface {
	Create(ctx context.Context, p *entity.Prescription) error
	ListMailboxStates(ctx context.Context, userID uuid.UUID) ([]entity.MailboxState, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Processor interface {
	Process(ctx context.Context, rec *entity.Prescription, pdf []byte) (*entity.Prescription, error)
}

// Deps are the collaborators of an Orchestrator. Locker may be nil.
type Deps struct {
	Credentials CredentialStore
	Sessions    mailbox.SessionFactory
	Locator     *mailbox.Locator
	Fetcher     Fetcher
	Store       storage.Store
	Records     RecordStore
	Processor   Processor
	Locker      scanlock.Locker
}

type Config struct {
	RunTimeout time.Duration // 0 = bounded only by the caller's context
	Workers    int           // default 1
	LockTTL    time.Duration // default RunTimeout + 1m, or 10m
}

type RunOptions struct {
	After *time.Time
}

type Orchestrator struct {
	deps   Deps
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func NewOrchestrator(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
		if cfg.RunTimeout > 0 {
			cfg.LockTTL = cfg.RunTimeout + time.Minute
		}
	}
	if deps.Locator == nil {
		deps.Locator = mailbox.NewLocator(logger)
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now, logger: logger}
}

// plan is the dedup state loaded once per run, before any work is dispatched.
type plan struct {
	skip  map[string]bool
	retry map[string][]entity.MailboxState
}

func newPlan(states []entity.MailboxState) plan {
	p := plan{skip: map[string]bool{}, retry: map[string][]entity.MailboxState{}}
	for _, s := range states {
		if s.State.Retriable() {
			p.retry[s.MessageID] = append(p.retry[s.MessageID], s)
			continue
		}
		p.skip[s.MessageID] = true
	}
	// a message with anything left to retry is not done yet
	for id := range p.retry {
		delete(p.skip, id)
	}
	return p
}

// Run scans the user's mailbox once. Per-item failures are counted and
// reported in the result; only an expired credential, a persistence failure
// or the context ending stop the run, and the partial result is returned
// alongside the error.
func (o *Orchestrator) Run(ctx context.Context, userID uuid.UUID, opts RunOptions) (RunResult, error) {
	var res RunResult
	start := o.now()
	log := o.logger.With("user_id", userID)

	release, err := o.lock(ctx, userID)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("scan lock release failed", "error", err)
		}
	}()

	ctx, cancel := common.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	token, err := o.deps.Credentials.Get(ctx, userID)
	if err != nil {
		return res, err
	}
	session, err := o.deps.Sessions.Open(ctx, token)
	if err != nil {
		return res, o.sessionError(ctx, userID, err)
	}

	refs, err := o.deps.Locator.Candidates(ctx, session, opts.After)
	if err != nil {
		return res, o.sessionError(ctx, userID, err)
	}
	res.Found = len(refs)

	states, err := o.deps.Records.ListMailboxStates(ctx, userID)
	if err != nil {
		return res, err
	}
	p := newPlan(states)
	log.Info("scan started", "found", len(refs), "known_messages", len(p.skip), "retry_messages", len(p.retry), "workers", o.cfg.Workers)

	slots := make([]outcome, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return o.processMessage(gctx, userID, session, ref, p, &slots[i])
		})
	}
	runErr := g.Wait()

	for _, s := range slots {
		res.add(s)
	}
	if res.Recetas == nil {
		res.Recetas = []entity.Prescription{}
	}
	if res.Failures == nil {
		res.Failures = []ItemFailure{}
	}

	logArgs := []any{
		"found", res.Found,
		"imported", res.Imported,
		"reprocessed", res.Reprocessed,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	switch {
	case runErr != nil:
		if mailbox.IsAuthExpired(runErr) {
			return res, o.sessionError(ctx, userID, runErr)
		}
		log.Error("scan aborted", append(logArgs, "error", runErr)...)
		return res, runErr
	case ctx.Err() != nil:
		log.Warn("scan interrupted", append(logArgs, "error", ctx.Err())...)
		return res, ctx.Err()
	}
	log.Info("scan complete", logArgs...)
	return res, nil
}

func (o *Orchestrator) lock(ctx context.Context, userID uuid.UUID) (scanlock.Release, error) {
	noop := func(context.Context) error { return nil }
	if o.deps.Locker == nil {
		return noop, nil
	}
	release, err := o.deps.Locker.Acquire(ctx, userID.String(), o.cfg.LockTTL)
	switch {
	case errors.Is(err, scanlock.ErrLocked):
		return nil, ErrScanInProgress
	case err != nil:
		// the unique index still prevents duplicate records
		o.logger.Warn("scan lock unavailable, continuing unlocked", "user_id", userID, "error", err)
		return noop, nil
	}
	return release, nil
}

// sessionError clears the credential on auth expiry and maps it to ErrAuthExpired.
func (o *Orchestrator) sessionError(ctx context.Context, userID uuid.UUID, err error) error {
	if !mailbox.IsAuthExpired(err) {
		return fmt.Errorf("mailbox session: %w", err)
	}
	o.logger.Warn("mailbox credential expired, clearing", "user_id", userID, "error", err)
	if cerr := o.deps.Credentials.Clear(context.WithoutCancel(ctx), userID); cerr != nil {
		o.logger.Error("failed to clear expired credential", "user_id", userID, "error", cerr)
		return errors.Join(ErrAuthExpired, cerr)
	}
	return ErrAuthExpired
}

// processMessage handles one candidate and records its contribution in out.
// A non-nil error aborts the run.
func (o *Orchestrator) processMessage(ctx context.Context, userID uuid.UUID, s mailbox.Session, ref mailbox.MessageRef, p plan, out *outcome) error {
	log := o.logger.With("user_id", userID, "message_id", ref.ID)

	if p.skip[ref.ID] {
		out.skipped++
		log.Debug("message already ingested, skipping")
		return nil
	}

	c, err := o.deps.Locator.Locate(ctx, s, ref.ID)
	switch {
	case mailbox.IsAuthExpired(err):
		return err
	case err != nil:
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("message body unreadable", "error", err)
		out.fail(ItemFailure{MessageID: ref.ID, Reason: ReasonBodyUnreadable, Detail: err.Error()})
		return nil
	case !c.HasBody:
		log.Warn("message has no body")
		out.fail(ItemFailure{MessageID: ref.ID, Reason: ReasonEmptyBody})
		return nil
	case len(c.Links) == 0:
		log.Warn("message has no document links")
		out.fail(ItemFailure{MessageID: ref.ID, Reason: ReasonNoLinks})
		return nil
	}

	if retries, ok := p.retry[ref.ID]; ok {
		for _, st := range retries {
			if ctx.Err() != nil {
				return nil
			}
			if err := o.retry(ctx, userID, st, out); err != nil {
				return err
			}
		}
		return nil
	}

	for i, link := range c.Links {
		if ctx.Err() != nil {
			return nil
		}
		if err := o.importLink(ctx, userID, ref.ID, i, link, out); err != nil {
			return err
		}
	}
	return nil
}

// retry reprocesses an existing record from its stored document.
func (o *Orchestrator) retry(ctx context.Context, userID uuid.UUID, st entity.MailboxState, out *outcome) error {
	log := o.logger.With("user_id", userID, "message_id", st.MessageID, "record_id", st.ID)
	url := st.PDFURL
	if st.ObjectKey != "" {
		if fresh, err := o.deps.Store.PublicURL(ctx, st.ObjectKey); err == nil {
			url = fresh
		}
	}

	data, err := o.deps.Fetcher.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("stored document fetch failed", "error", err)
		out.fail(ItemFailure{MessageID: st.MessageID, Link: url, Reason: ReasonFetchFailed, Detail: err.Error()})
		return nil
	}

	messageID := st.MessageID
	rec := &entity.Prescription{
		ID:           st.ID,
		UserID:       userID,
		PDFURL:       st.PDFURL,
		PDFObjectKey: st.ObjectKey,
		MessageID:    &messageID,
		LinkIndex:    st.LinkIndex,
		State:        st.State,
		Version:      st.Version,
	}
	updated, err := o.deps.Processor.Process(ctx, rec, data)
	if handled, err := o.processFailure(ctx, err, st.MessageID, url, updated, out); handled {
		return err
	}
	out.reprocessed++
	out.records = append(out.records, *updated)
	log.Info("prescription reprocessed", "previous_state", st.State, "state", updated.State)
	return nil
}

// importLink downloads one new document, stores it and creates its record.
func (o *Orchestrator) importLink(ctx context.Context, userID uuid.UUID, messageID string, index int, link string, out *outcome) error {
	log := o.logger.With("user_id", userID, "message_id", messageID, "link_index", index)

	data, err := o.deps.Fetcher.Fetch(ctx, link)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("document fetch failed", "error", err)
		out.fail(ItemFailure{MessageID: messageID, Link: link, Reason: ReasonFetchFailed, Detail: err.Error()})
		return nil
	}

	name := documentName(messageID, index, o.now())
	obj, err := o.deps.Store.Put(ctx, data, name, userID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Error("document store failed", "error", err)
		out.fail(ItemFailure{MessageID: messageID, Link: link, Reason: ReasonStoreFailed, Detail: err.Error()})
		return nil
	}

	id := messageID
	rec := &entity.Prescription{
		UserID:          userID,
		PDFURL:          obj.URL,
		PDFObjectKey:    obj.Key,
		PDFOriginalName: name,
		MessageID:       &id,
		LinkIndex:       index,
		State:           constants.StateProcessing,
	}
	if err := o.deps.Records.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// a concurrent scan got there first
			out.skipped++
			return nil
		}
		return err
	}

	updated, err := o.deps.Processor.Process(ctx, rec, data)
	if handled, err := o.processFailure(ctx, err, messageID, link, updated, out); handled {
		return err
	}
	out.imported++
	out.records = append(out.records, *updated)
	return nil
}

// processFailure classifies a Processor error. handled reports whether the
// caller should stop; the returned error aborts the run.
func (o *Orchestrator) processFailure(ctx context.Context, err error, messageID, link string, updated *entity.Prescription, out *outcome) (handled bool, abort error) {
	switch {
	case err == nil:
		return false, nil
	case common.IsPersistence(err):
		return true, err
	case ctx.Err() != nil:
		return true, nil
	case errors.Is(err, pipeline.ErrExtraction):
		if updated != nil {
			out.records = append(out.records, *updated)
		}
		out.fail(ItemFailure{MessageID: messageID, Link: link, Reason: ReasonExtractionFailed, Detail: err.Error()})
		return true, nil
	case errors.Is(err, common.ErrConflict):
		out.fail(ItemFailure{MessageID: messageID, Link: link, Reason: ReasonUpdateConflict, Detail: err.Error()})
		return true, nil
	}
	out.fail(ItemFailure{MessageID: messageID, Link: link, Reason: ReasonExtractionFailed, Detail: err.Error()})
	return true, nil
}

// documentName is "osde-orden-<message>-<unix millis>.pdf"; links after the
// first get a "-<index>" suffix so they never share an object key.
func documentName(messageID string, index int, now time.Time) string {
	if index == 0 {
		return fmt.Sprintf("osde-orden-%s-%d.%s", messageID, now.UnixMilli(), constants.PDFExt)
	}
	return fmt.Sprintf("osde-orden-%s-%d-%d.%s", messageID, now.UnixMilli(), index, constants.PDFExt)
}
