package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/constants"
	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/entity"
	"github.com/joseph-ayodele/recetas-tracker/internal/fetch"
	"github.com/joseph-ayodele/recetas-tracker/internal/mailbox"
	"github.com/joseph-ayodele/recetas-tracker/internal/ocr"
	"github.com/joseph-ayodele/recetas-tracker/internal/pipeline"
	"github.com/joseph-ayodele/recetas-tracker/internal/repository"
	"github.com/joseph-ayodele/recetas-tracker/internal/scanlock"
	"github.com/joseph-ayodele/recetas-tracker/internal/storage"
)

const pdfHeader = "%PDF-1.4\n"

const orderText = "OSDE\nDra. Romina Moretti\nFecha: 05/03/2024\nRp./\n865 - TIROTROFINA (TSH)\nDiagnóstico: 62315008 - diarrea"

// textExtractor reads the text straight out of the fake PDF payload.
type textExtractor struct {
	mu   sync.Mutex
	fail bool
}

func (x *textExtractor) setFail(v bool) {
	x.mu.Lock()
	x.fail = v
	x.mu.Unlock()
}

func (x *textExtractor) ExtractPDF(_ context.Context, data []byte) (ocr.ExtractionResult, error) {
	x.mu.Lock()
	fail := x.fail
	x.mu.Unlock()
	if fail {
		return ocr.ExtractionResult{}, &ocr.ExtractionError{Attempts: []string{"pdftotext: 0 chars", "ocr: 0 chars"}}
	}
	return ocr.ExtractionResult{Text: strings.TrimPrefix(string(data), pdfHeader), Method: ocr.MethodPDFText, Pages: 1}, nil
}

type fakeSession struct {
	mu        sync.Mutex
	order     []string
	bodies    map[string]*mailbox.Part
	searchErr error
	bodyErr   map[string]error
}

func (s *fakeSession) Search(context.Context, string, int64) ([]mailbox.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	refs := make([]mailbox.MessageRef, 0, len(s.order))
	for _, id := range s.order {
		refs = append(refs, mailbox.MessageRef{ID: id, ThreadID: id})
	}
	return refs, nil
}

func (s *fakeSession) Body(_ context.Context, id string) (*mailbox.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bodyErr[id]; err != nil {
		return nil, err
	}
	b, ok := s.bodies[id]
	if !ok {
		return nil, errors.New("message vanished")
	}
	return b, nil
}

type fakeFactory struct{ session *fakeSession }

func (f fakeFactory) Open(context.Context, string) (mailbox.Session, error) { return f.session, nil }

type harness struct {
	t         *testing.T
	user      uuid.UUID
	repo      repository.PrescriptionRepository
	creds     repository.CredentialRepository
	store     *storage.MemoryStore
	session   *fakeSession
	extractor *textExtractor
	docsURL   string

	mu   sync.Mutex
	docs map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	db, err := repository.OpenSQLite(ctx, ":memory:", logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(db.Close)

	cipher, err := repository.NewTokenCipher("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	h := &harness{
		t:         t,
		user:      uuid.New(),
		repo:      repository.NewPrescriptionRepository(db, logger),
		creds:     repository.NewCredentialRepository(db, cipher, logger),
		session:   &fakeSession{bodies: map[string]*mailbox.Part{}, bodyErr: map[string]error{}},
		extractor: &textExtractor{},
		docs:      map[string]string{},
	}
	if err := h.creds.Save(ctx, h.user, "refresh-token"); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	h.store = storage.NewMemoryStore("", "recetas")
	storeSrv := httptest.NewServer(h.store)
	t.Cleanup(storeSrv.Close)
	h.store.SetBaseURL(storeSrv.URL)

	docSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		body, ok := h.docs[r.URL.Query().Get("hash")]
		h.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, pdfHeader+body)
	}))
	t.Cleanup(docSrv.Close)
	h.docsURL = docSrv.URL
	return h
}

func (h *harness) orchestrator(cfg Config, deps ...func(*Deps)) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := Deps{
		Credentials: h.creds,
		Sessions:    fakeFactory{session: h.session},
		Locator:     mailbox.NewLocator(logger),
		Fetcher:     fetch.NewFetcher(fetch.Config{Timeout: 5 * time.Second}, logger),
		Store:       h.store,
		Records:     h.repo,
		Processor:   pipeline.NewProcessor(h.extractor, h.repo, logger),
		Locker:      scanlock.NewLocalLocker(),
	}
	for _, fn := range deps {
		fn(&d)
	}
	return NewOrchestrator(d, cfg, logger)
}

func (h *harness) link(hash string) string {
	return fmt.Sprintf("%s/documento?hash=%s", h.docsURL, hash)
}

// addMessage registers a message whose body links to the given document hashes.
func (h *harness) addMessage(id string, hashes ...string) {
	var b strings.Builder
	b.WriteString("<html><body><p>Tu orden está lista.</p>")
	for _, hash := range hashes {
		fmt.Fprintf(&b, `<a href="%s">Prescripción del día</a>`, h.link(hash))
	}
	b.WriteString("</body></html>")
	h.addBody(id, &mailbox.Part{
		MimeType: "multipart/alternative",
		Parts: []*mailbox.Part{
			{MimeType: "text/plain", Data: []byte("orden")},
			{MimeType: "text/html; charset=UTF-8", Data: []byte(b.String())},
		},
	})
}

func (h *harness) addBody(id string, root *mailbox.Part) {
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	h.session.order = append(h.session.order, id)
	h.session.bodies[id] = root
}

func (h *harness) addDoc(hash, text string) {
	h.mu.Lock()
	h.docs[hash] = text
	h.mu.Unlock()
}

func (h *harness) run(o *Orchestrator) RunResult {
	h.t.Helper()
	res, err := o.Run(context.Background(), h.user, RunOptions{})
	if err != nil {
		h.t.Fatalf("run: %v", err)
	}
	return res
}

func assertCounts(t *testing.T, res RunResult, found, imported, reprocessed, skipped, errs int) {
	t.Helper()
	if res.Found != found || res.Imported != imported || res.Reprocessed != reprocessed || res.Skipped != skipped || res.Errors != errs {
		t.Fatalf("counts = found:%d imported:%d reprocessed:%d skipped:%d errors:%d; want %d/%d/%d/%d/%d",
			res.Found, res.Imported, res.Reprocessed, res.Skipped, res.Errors,
			found, imported, reprocessed, skipped, errs)
	}
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.addMessage("m1", "abc")
	h.addDoc("abc", orderText)

	res := h.run(h.orchestrator(Config{}))
	assertCounts(t, res, 1, 1, 0, 0, 0)

	if len(res.Recetas) != 1 {
		t.Fatalf("expected one record, got %d", len(res.Recetas))
	}
	rec := res.Recetas[0]
	if rec.State != constants.StatePending {
		t.Fatalf("expected pending, got %s", rec.State)
	}
	if rec.Physician == nil || *rec.Physician != "Romina Moretti" {
		t.Fatalf("physician = %v", rec.Physician)
	}
	if len(rec.Studies) != 1 {
		t.Fatalf("studies = %v", rec.Studies)
	}
	if rec.MessageID == nil || *rec.MessageID != "m1" {
		t.Fatalf("message id = %v", rec.MessageID)
	}
	if !strings.HasPrefix(rec.PDFOriginalName, "osde-orden-m1-") || !strings.HasSuffix(rec.PDFOriginalName, ".pdf") {
		t.Fatalf("unexpected file name %q", rec.PDFOriginalName)
	}
	if !strings.HasPrefix(rec.PDFObjectKey, h.user.String()+"/") {
		t.Fatalf("object key not owned by user: %q", rec.PDFObjectKey)
	}
	if h.store.Len() != 1 {
		t.Fatalf("expected one stored object, got %d", h.store.Len())
	}
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.addMessage("m1", "a")
	h.addMessage("m2", "b")
	h.addDoc("a", orderText)
	h.addDoc("b", orderText)
	o := h.orchestrator(Config{})

	assertCounts(t, h.run(o), 2, 2, 0, 0, 0)
	second := h.run(o)
	assertCounts(t, second, 2, 0, 0, 2, 0)
	if len(second.Recetas) != 0 {
		t.Fatalf("second run touched records: %v", second.Recetas)
	}
	if h.store.Len() != 2 {
		t.Fatalf("second run stored new objects: %d", h.store.Len())
	}
}

func TestRunRetryLaw(t *testing.T) {
	h := newHarness(t)
	h.addMessage("m1", "a")
	h.addDoc("a", orderText)
	o := h.orchestrator(Config{})

	h.extractor.setFail(true)
	first := h.run(o)
	assertCounts(t, first, 1, 0, 0, 0, 1)
	if len(first.Recetas) != 1 || first.Recetas[0].State != constants.StateOCRError {
		t.Fatalf("expected one ocr_error record, got %+v", first.Recetas)
	}
	failed := first.Recetas[0]
	if failed.Physician != nil || failed.IssuedOn != nil || len(failed.Studies) != 0 {
		t.Fatalf("ocr_error record must have null fields: %+v", failed)
	}
	if len(first.Failures) != 1 || first.Failures[0].Reason != ReasonExtractionFailed {
		t.Fatalf("unexpected failures %+v", first.Failures)
	}

	// the mailbox link is gone; the retry must use the stored copy
	h.mu.Lock()
	delete(h.docs, "a")
	h.mu.Unlock()
	h.extractor.setFail(false)

	second := h.run(o)
	assertCounts(t, second, 1, 0, 1, 0, 0)
	got := second.Recetas[0]
	if got.ID != failed.ID {
		t.Fatalf("retry must update in place: %s != %s", got.ID, failed.ID)
	}
	if got.State != constants.StatePending || got.Physician == nil {
		t.Fatalf("retried record not parsed: %+v", got)
	}
	if h.store.Len() != 1 {
		t.Fatalf("retry stored a new object")
	}
	third := h.run(o)
	assertCounts(t, third, 1, 0, 0, 1, 0)
}

func TestRunMessageDiagnostics(t *testing.T) {
	h := newHarness(t)
	h.addBody("nolinks", &mailbox.Part{MimeType: "text/html", Data: []byte("<p>Sin enlaces</p>")})
	h.addBody("empty", &mailbox.Part{MimeType: "multipart/mixed"})
	h.addMessage("broken", "x")
	h.session.bodyErr["broken"] = errors.New("decode base64: illegal data")

	res := h.run(h.orchestrator(Config{}))
	assertCounts(t, res, 3, 0, 0, 0, 3)

	reasons := map[string]string{}
	for _, f := range res.Failures {
		reasons[f.MessageID] = f.Reason
	}
	want := map[string]string{"nolinks": ReasonNoLinks, "empty": ReasonEmptyBody, "broken": ReasonBodyUnreadable}
	for id, r := range want {
		if reasons[id] != r {
			t.Fatalf("reason for %s = %q, want %q", id, reasons[id], r)
		}
	}
	states, err := h.repo.ListMailboxStates(context.Background(), h.user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("no records may be created, got %d", len(states))
	}
}

func TestRunFetchFailureIsIsolatedPerLink(t *testing.T) {
	h := newHarness(t)
	h.addMessage("m1", "missing", "ok")
	h.addDoc("ok", orderText)

	res := h.run(h.orchestrator(Config{}))
	assertCounts(t, res, 1, 1, 0, 0, 1)
	if res.Recetas[0].LinkIndex != 1 {
		t.Fatalf("expected link index 1, got %d", res.Recetas[0].LinkIndex)
	}
	if res.Failures[0].Reason != ReasonFetchFailed || res.Failures[0].Link != h.link("missing") {
		t.Fatalf("unexpected failure %+v", res.Failures[0])
	}
}

func TestRunAuthExpiredClearsCredential(t *testing.T) {
	for _, where := range []string{"search", "body"} {
		t.Run(where, func(t *testing.T) {
			h := newHarness(t)
			h.addMessage("m1", "a")
			h.addDoc("a", orderText)
			expired := &mailbox.AuthExpiredError{Err: errors.New("invalid_grant")}
			if where == "search" {
				h.session.searchErr = expired
			} else {
				h.session.bodyErr["m1"] = expired
			}

			_, err := h.orchestrator(Config{}).Run(context.Background(), h.user, RunOptions{})
			if !errors.Is(err, ErrAuthExpired) {
				t.Fatalf("expected ErrAuthExpired, got %v", err)
			}
			if !errors.Is(err, common.ErrUnauthorized) {
				t.Fatalf("auth expiry must map to unauthorized")
			}
			if _, err := h.creds.Get(context.Background(), h.user); !errors.Is(err, common.ErrMailboxNotConnected) {
				t.Fatalf("credential not cleared: %v", err)
			}
		})
	}
}

func TestRunWithoutCredential(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(Config{})
	if _, err := o.Run(context.Background(), uuid.New(), RunOptions{}); !errors.Is(err, common.ErrMailboxNotConnected) {
		t.Fatalf("expected ErrMailboxNotConnected, got %v", err)
	}
}

type failingRecords struct {
	RecordStore
}

func (failingRecords) Create(context.Context, *entity.Prescription) error {
	return common.Persistence("create prescription", errors.New("disk full"))
}

func TestRunPersistenceFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.addMessage("m1", "a")
	h.addMessage("m2", "b")
	h.addDoc("a", orderText)
	h.addDoc("b", orderText)

	o := h.orchestrator(Config{}, func(d *Deps) { d.Records = failingRecords{RecordStore: h.repo} })
	res, err := o.Run(context.Background(), h.user, RunOptions{})
	if !common.IsPersistence(err) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if res.Imported != 0 || res.Found != 2 {
		t.Fatalf("unexpected partial result %+v", res)
	}
}

func TestRunScanInProgress(t *testing.T) {
	h := newHarness(t)
	locker := scanlock.NewLocalLocker()
	release, err := locker.Acquire(context.Background(), h.user.String(), time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	o := h.orchestrator(Config{}, func(d *Deps) { d.Locker = locker })
	if _, err := o.Run(context.Background(), h.user, RunOptions{}); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}
	_ = release(context.Background())
	if _, err := o.Run(context.Background(), h.user, RunOptions{}); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

type blockingFetcher struct{}

func (blockingFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunTimeoutReturnsPartialResult(t *testing.T) {
	h := newHarness(t)
	h.addMessage("m1", "a")
	h.addDoc("a", orderText)

	o := h.orchestrator(Config{RunTimeout: 50 * time.Millisecond}, func(d *Deps) { d.Fetcher = blockingFetcher{} })
	res, err := o.Run(context.Background(), h.user, RunOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	assertCounts(t, res, 1, 0, 0, 0, 0)
}

// seedMailbox builds a mixed mailbox: good orders, broken documents, link-less
// and multi-link messages.
func seedMailbox(h *harness) {
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("m%02d", i)
		switch i % 4 {
		case 0:
			h.addMessage(id, id+"a")
			h.addDoc(id+"a", orderText)
		case 1:
			h.addMessage(id, id+"a", id+"b")
			h.addDoc(id+"a", orderText)
			h.addDoc(id+"b", "Profesional: Sergio Vidal\n0101 - ECOGRAFIA ABDOMINAL")
		case 2:
			h.addBody(id, &mailbox.Part{MimeType: "text/html", Data: []byte("<p>nada</p>")})
		case 3:
			h.addMessage(id, id+"missing")
		}
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	var results []RunResult
	for _, workers := range []int{1, 4} {
		h := newHarness(t)
		seedMailbox(h)
		results = append(results, h.run(h.orchestrator(Config{Workers: workers})))
	}
	seq, par := results[0], results[1]
	assertCounts(t, par, seq.Found, seq.Imported, seq.Reprocessed, seq.Skipped, seq.Errors)
	assertCounts(t, seq, 8, 6, 0, 0, 4)

	if len(seq.Recetas) != len(par.Recetas) {
		t.Fatalf("record counts differ: %d vs %d", len(seq.Recetas), len(par.Recetas))
	}
	for i := range seq.Recetas {
		a, b := seq.Recetas[i], par.Recetas[i]
		if *a.MessageID != *b.MessageID || a.LinkIndex != b.LinkIndex || a.State != b.State {
			t.Fatalf("record %d differs: %s/%d/%s vs %s/%d/%s", i, *a.MessageID, a.LinkIndex, a.State, *b.MessageID, b.LinkIndex, b.State)
		}
	}
	for i := range seq.Failures {
		if seq.Failures[i].MessageID != par.Failures[i].MessageID || seq.Failures[i].Reason != par.Failures[i].Reason {
			t.Fatalf("failure %d differs: %+v vs %+v", i, seq.Failures[i], par.Failures[i])
		}
	}
}

func TestDocumentName(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	if got := documentName("abc", 0, now); got != "osde-orden-abc-1700000000123.pdf" {
		t.Fatalf("documentName = %q", got)
	}
	if got := documentName("abc", 2, now); got != "osde-orden-abc-1700000000123-2.pdf" {
		t.Fatalf("documentName = %q", got)
	}
}
