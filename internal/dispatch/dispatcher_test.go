package dispatch

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/granitex/quotebridge/internal/codec"
	"github.com/granitex/quotebridge/internal/logging"
	"github.com/granitex/quotebridge/internal/presence"
	"github.com/granitex/quotebridge/internal/quote"
)

func newTestDispatcher() (*Dispatcher, quote.Store) {
	store := quote.NewMemoryStore()
	enc := &codec.Encoder{
		QuoteRoot:   `F:\nxerp`,
		PdfDir:      `F:\nxerppdf\`,
		CompanyName: "GRANITEX inc.",
		LoadingSite: "GRANITEX RAP",
	}
	d := New(store, enc, nil, presence.NewRegistry(), logging.New("error"))
	return d, store
}

func addPending(t *testing.T, d *Dispatcher, store quote.Store, ref string, kind quote.Kind) *quote.Quote {
	t.Helper()
	q := quote.New(ref, kind, quote.Params{
		ClientName:   "Acme",
		ProjectName:  "Tour Sud",
		MaterialName: "Graphite Grey",
	})
	if err := store.Add(q); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := d.Dispatch(q.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return q
}

const replyDoc = `<generation>
<meta cible='F:\nxerp\Tour_Sud\book.xlsx'/>
<devis><externe>
<ligne TAG='001-1' QTY='2' Prix_unitaire_externe='100' Prix_externe='200'/>
<ligne TAG='001-2' QTY='3' Prix_unitaire_externe='10'/>
</externe></devis>
</generation>`

func TestClaimReturnsEncodedJob(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-001", quote.KindCreate)

	job, err := d.Claim("shop-pc")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.ID != q.ID || job.Reference != "Q-001" {
		t.Errorf("job identity = %q/%q", job.ID, job.Reference)
	}
	if job.TargetFilename != "Q-001.rak" {
		t.Errorf("target filename = %q", job.TargetFilename)
	}
	if !strings.Contains(job.Descriptor, "action='emcot'") {
		t.Error("descriptor missing action")
	}
	if job.SourceURL != "" {
		t.Error("create jobs have no source to download")
	}

	stored, _ := store.Get(q.ID)
	if stored.Status != quote.StatusClaimed {
		t.Errorf("status = %s, want claimed", stored.Status)
	}
	if stored.TargetPath == "" {
		t.Error("claim should persist the target path")
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	d, _ := newTestDispatcher()
	if _, err := d.Claim("shop-pc"); !errors.Is(err, ErrNoWork) {
		t.Fatalf("err = %v, want ErrNoWork", err)
	}
}

func TestClaimIsOldestFirst(t *testing.T) {
	d, store := newTestDispatcher()
	first := addPending(t, d, store, "Q-001", quote.KindCreate)
	time.Sleep(2 * time.Millisecond)
	addPending(t, d, store, "Q-002", quote.KindCreate)

	job, err := d.Claim("shop-pc")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.ID != first.ID {
		t.Errorf("claimed %s, want the older %s", job.Reference, first.Reference)
	}
}

func TestClaimIsAtomicUnderConcurrency(t *testing.T) {
	d, store := newTestDispatcher()
	const quotes = 5
	const bridges = 20

	for i := 0; i < quotes; i++ {
		addPending(t, d, store, "Q-00"+string(rune('1'+i)), quote.KindCreate)
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < bridges; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := d.Claim("bridge")
			if err != nil {
				return
			}
			mu.Lock()
			claimed[job.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claimed) != quotes {
		t.Errorf("claimed %d distinct quotes, want %d", len(claimed), quotes)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("quote %s claimed %d times", id, n)
		}
	}
}

func TestReintegrateJobCarriesSourceURL(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-009", quote.KindReintegrate)

	stored, _ := store.Get(q.ID)
	if stored.Status != quote.StatusPendingReimport {
		t.Errorf("status = %s, want pending_reimport", stored.Status)
	}

	job, err := d.Claim("shop-pc")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.SourceURL == "" || !strings.Contains(job.SourceURL, q.ID) {
		t.Errorf("source url = %q", job.SourceURL)
	}
}

func TestIngestResultReplacesLines(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-001", quote.KindCreate)
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	got, err := d.IngestResult(q.ID, "shop-pc", []byte(replyDoc), []string{q.ID + "/reply.xml"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got.Status != quote.StatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if len(got.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(got.Lines))
	}
	// 200 explicit + 30 computed from qty*unit.
	if got.TotalAmount != 230 {
		t.Errorf("total = %v, want 230", got.TotalAmount)
	}
	if got.TargetPath != `F:\nxerp\Tour_Sud\book.xlsx` {
		t.Errorf("tool-echoed target should win, got %q", got.TargetPath)
	}

	// Re-ingesting the same reply converges, never duplicates.
	again, err := d.IngestResult(q.ID, "shop-pc", []byte(replyDoc), nil)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if len(again.Lines) != 2 || again.TotalAmount != 230 {
		t.Errorf("second ingest diverged: %d lines, total %v", len(again.Lines), again.TotalAmount)
	}
}

func TestIngestParseFailureKeepsExistingLines(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-001", quote.KindCreate)
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := d.IngestResult(q.ID, "shop-pc", []byte(replyDoc), nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Retry the job and feed garbage back.
	if _, err := d.Retry(q.ID); err == nil {
		t.Fatal("retry of a completed quote should be rejected")
	}
	if err := d.MarkFailed(q.ID, "shop-pc", quote.FailTimeout); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := d.Retry(q.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := d.IngestResult(q.ID, "shop-pc", []byte("not xml at all"), nil); err == nil {
		t.Fatal("expected decode error")
	}

	stored, _ := store.Get(q.ID)
	if stored.Status != quote.StatusFailed || stored.FailReason != quote.FailParse {
		t.Errorf("status = %s/%s, want failed/parse", stored.Status, stored.FailReason)
	}
	if len(stored.Lines) != 2 {
		t.Errorf("previously ingested lines should survive a bad reply, got %d", len(stored.Lines))
	}
}

func TestIngestEmptyLabelReplyKeepsPricedLines(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-001", quote.KindPrintLabel)
	q.Lines = []quote.Line{
		{Tag: "001-1", TotalPrice: 200},
		{Tag: "001-2", TotalPrice: 30},
	}
	q.TotalAmount = 230
	if err := store.Update(q); err != nil {
		t.Fatalf("seed lines: %v", err)
	}
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The pdf render answers with no rows and must not touch pricing.
	got, err := d.IngestResult(q.ID, "shop-pc", []byte("<generation/>"), []string{q.ID + "/label.pdf"})
	if err != nil {
		t.Fatalf("ingest empty reply: %v", err)
	}
	if got.Status != quote.StatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if len(got.Lines) != 2 || got.TotalAmount != 230 {
		t.Errorf("priced lines should survive a label render, got %d lines, total %v", len(got.Lines), got.TotalAmount)
	}
}

func TestIngestZeroLineReplyReplacesLines(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-001", quote.KindCreate)
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := d.IngestResult(q.ID, "shop-pc", []byte(replyDoc), nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := d.MarkFailed(q.ID, "shop-pc", quote.FailTimeout); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := d.Retry(q.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The reply is the sole source of truth: a decodable document with an
	// empty row set clears previously priced lines.
	empty := `<generation><devis><externe/></devis></generation>`
	got, err := d.IngestResult(q.ID, "shop-pc", []byte(empty), nil)
	if err != nil {
		t.Fatalf("ingest empty reply: %v", err)
	}
	if got.Status != quote.StatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if len(got.Lines) != 0 || got.TotalAmount != 0 {
		t.Errorf("stale lines survived a zero-line reply: %d lines, total %v", len(got.Lines), got.TotalAmount)
	}
}

// brokenCompleteStore fails every Complete to exercise the persistence
// error path.
type brokenCompleteStore struct {
	quote.Store
}

func (s *brokenCompleteStore) Complete(id string, lines []quote.Line, total float64, artifacts []string) error {
	return errors.New("disk full")
}

func TestIngestPersistFailureMarksQuoteFailed(t *testing.T) {
	mem := quote.NewMemoryStore()
	store := &brokenCompleteStore{Store: mem}
	enc := &codec.Encoder{
		QuoteRoot:   `F:\nxerp`,
		PdfDir:      `F:\nxerppdf\`,
		CompanyName: "GRANITEX inc.",
		LoadingSite: "GRANITEX RAP",
	}
	d := New(store, enc, nil, presence.NewRegistry(), logging.New("error"))

	q := addPending(t, d, store, "Q-001", quote.KindCreate)
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := d.IngestResult(q.ID, "shop-pc", []byte(replyDoc), nil); err == nil {
		t.Fatal("expected persistence error")
	}

	// The quote must not stay claimed behind a store error.
	stored, _ := mem.Get(q.ID)
	if stored.Status != quote.StatusFailed || stored.FailReason != quote.FailUpload {
		t.Errorf("status = %s/%s, want failed/upload", stored.Status, stored.FailReason)
	}
}

func TestMarkFailedUnknownReasonDefaultsToTimeout(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-001", quote.KindCreate)
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := d.MarkFailed(q.ID, "shop-pc", "exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	stored, _ := store.Get(q.ID)
	if stored.FailReason != quote.FailTimeout {
		t.Errorf("reason = %s, want timeout", stored.FailReason)
	}
}

func TestDispatchRejectsActiveQuote(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-001", quote.KindCreate)
	if _, err := d.Dispatch(q.ID); err == nil {
		t.Error("dispatching an already pending quote should fail")
	}
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := d.Dispatch(q.ID); err == nil {
		t.Error("dispatching a claimed quote should fail")
	}
}

func TestParseErrorOnFreshQuoteLeavesNoLines(t *testing.T) {
	d, store := newTestDispatcher()
	q := addPending(t, d, store, "Q-002", quote.KindCreate)
	if _, err := d.Claim("shop-pc"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := d.IngestResult(q.ID, "shop-pc", []byte(""), nil); err == nil {
		t.Fatal("expected decode error")
	}
	stored, _ := store.Get(q.ID)
	if len(stored.Lines) != 0 {
		t.Errorf("no lines should be stored after a failed decode, got %d", len(stored.Lines))
	}
}
