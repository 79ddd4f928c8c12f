package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/granitex/quotebridge/internal/artifact"
	"github.com/granitex/quotebridge/internal/codec"
	"github.com/granitex/quotebridge/internal/config"
	"github.com/granitex/quotebridge/internal/dispatch"
	"github.com/granitex/quotebridge/internal/logging"
	"github.com/granitex/quotebridge/internal/presence"
	"github.com/granitex/quotebridge/internal/quote"
)

func newTestRouter(t *testing.T) (http.Handler, quote.Store) {
	t.Helper()
	cfg := &config.Config{
		NodeID:        "test-node",
		ToolQuoteRoot: `F:\nxerp`,
		ToolPdfDir:    `F:\nxerppdf\`,
		CompanyName:   "GRANITEX inc.",
		LoadingSite:   "GRANITEX RAP",
	}
	store := quote.NewMemoryStore()
	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	registry := presence.NewRegistry()
	enc := &codec.Encoder{
		QuoteRoot:   cfg.ToolQuoteRoot,
		PdfDir:      cfg.ToolPdfDir,
		CompanyName: cfg.CompanyName,
		LoadingSite: cfg.LoadingSite,
	}
	d := dispatch.New(store, enc, nil, registry, logging.New("error"))
	return NewRouter(cfg, store, d, artifacts, registry, nil), store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Agent-ID", "test-bridge")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createAndDispatch(t *testing.T, router http.Handler, ref string, kind string) quote.Quote {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/quotes", QuoteRequest{
		Reference: ref,
		Kind:      kind,
		Dispatch:  true,
		Params: quote.Params{
			ClientName:   "Acme",
			ProjectName:  "Tour Sud",
			MaterialName: "Graphite Grey",
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create quote: %d %s", w.Code, w.Body.String())
	}
	var q quote.Quote
	json.Unmarshal(w.Body.Bytes(), &q)
	return q
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", resp["status"])
	}
}

func TestCreateQuoteValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "POST", "/api/quotes", QuoteRequest{Kind: "create"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing reference should 400, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/quotes", QuoteRequest{Reference: "Q-001", Kind: "explode"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind should 400, got %d", w.Code)
	}
}

func TestCreateQuoteDuplicateReference(t *testing.T) {
	router, _ := newTestRouter(t)
	createAndDispatch(t, router, "Q-001", "create")

	w := doJSON(t, router, "POST", "/api/quotes", QuoteRequest{Reference: "Q-001"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate reference should 409, got %d", w.Code)
	}
}

func TestNextJobEmptyQueueIs204(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/api/jobs/next", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("204 must carry no body, got %q", w.Body.String())
	}
}

func TestNextJobReturnsClaim(t *testing.T) {
	router, store := newTestRouter(t)
	q := createAndDispatch(t, router, "Q-001", "create")

	w := doJSON(t, router, "GET", "/api/jobs/next", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var job dispatch.Job
	json.Unmarshal(w.Body.Bytes(), &job)
	if job.ID != q.ID || job.TargetFilename != "Q-001.rak" {
		t.Errorf("job = %+v", job)
	}
	if !strings.Contains(job.Descriptor, "action='emcot'") {
		t.Error("descriptor missing action")
	}

	stored, _ := store.Get(q.ID)
	if stored.Status != quote.StatusClaimed {
		t.Errorf("status = %s", stored.Status)
	}

	// Second poll finds the queue drained.
	w = doJSON(t, router, "GET", "/api/jobs/next", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 after claim, got %d", w.Code)
	}
}

func TestAckJob(t *testing.T) {
	router, store := newTestRouter(t)
	q := createAndDispatch(t, router, "Q-001", "create")
	doJSON(t, router, "GET", "/api/jobs/next", nil)

	w := doJSON(t, router, "POST", "/api/jobs/"+q.ID+"/ack", AckRequest{Filename: "Q-001.rak"})
	if w.Code != http.StatusOK {
		t.Fatalf("ack: %d %s", w.Code, w.Body.String())
	}

	stored, _ := store.Get(q.ID)
	if stored.HandoffAt == nil {
		t.Error("ack should record the handoff time")
	}
}

func multipartBody(t *testing.T, files map[string][2]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, nameAndContent := range files {
		fw, err := mw.CreateFormFile(field, nameAndContent[0])
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write([]byte(nameAndContent[1]))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

const replyDoc = `<generation>
<devis><externe>
<ligne TAG='001-1' QTY='2' Prix_unitaire_externe='100' Prix_externe='200'/>
</externe></devis>
</generation>`

func TestUploadResultCompletesQuote(t *testing.T) {
	router, store := newTestRouter(t)
	q := createAndDispatch(t, router, "Q-001", "create")
	doJSON(t, router, "GET", "/api/jobs/next", nil)

	body, contentType := multipartBody(t, map[string][2]string{
		"xml":   {"reply.xml", replyDoc},
		"excel": {"book.xlsx", "fake-workbook"},
	})
	req := httptest.NewRequest("POST", "/api/jobs/"+q.ID+"/result", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Agent-ID", "test-bridge")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload result: %d %s", w.Code, w.Body.String())
	}

	stored, _ := store.Get(q.ID)
	if stored.Status != quote.StatusCompleted {
		t.Errorf("status = %s", stored.Status)
	}
	if len(stored.Lines) != 1 || stored.TotalAmount != 200 {
		t.Errorf("lines = %d, total = %v", len(stored.Lines), stored.TotalAmount)
	}
	if len(stored.ArtifactPaths) != 2 {
		t.Errorf("artifact paths = %v", stored.ArtifactPaths)
	}
}

func TestUploadResultWithoutXMLIs400(t *testing.T) {
	router, _ := newTestRouter(t)
	q := createAndDispatch(t, router, "Q-001", "create")
	doJSON(t, router, "GET", "/api/jobs/next", nil)

	body, contentType := multipartBody(t, map[string][2]string{
		"excel": {"book.xlsx", "fake-workbook"},
	})
	req := httptest.NewRequest("POST", "/api/jobs/"+q.ID+"/result", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestUploadResultBadReplyFailsQuote(t *testing.T) {
	router, store := newTestRouter(t)
	q := createAndDispatch(t, router, "Q-001", "create")
	doJSON(t, router, "GET", "/api/jobs/next", nil)

	body, contentType := multipartBody(t, map[string][2]string{
		"xml": {"reply.xml", ""},
	})
	req := httptest.NewRequest("POST", "/api/jobs/"+q.ID+"/result", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
	stored, _ := store.Get(q.ID)
	if stored.Status != quote.StatusFailed || stored.FailReason != quote.FailParse {
		t.Errorf("status = %s/%s", stored.Status, stored.FailReason)
	}
}

func TestFailAndRetry(t *testing.T) {
	router, store := newTestRouter(t)
	q := createAndDispatch(t, router, "Q-001", "create")
	doJSON(t, router, "GET", "/api/jobs/next", nil)

	w := doJSON(t, router, "POST", "/api/jobs/"+q.ID+"/fail", FailRequest{Reason: "timeout"})
	if w.Code != http.StatusOK {
		t.Fatalf("fail: %d", w.Code)
	}
	stored, _ := store.Get(q.ID)
	if stored.Status != quote.StatusFailed || stored.FailReason != quote.FailTimeout {
		t.Errorf("status = %s/%s", stored.Status, stored.FailReason)
	}

	w = doJSON(t, router, "POST", "/api/quotes/"+q.ID+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: %d %s", w.Code, w.Body.String())
	}
	stored, _ = store.Get(q.ID)
	if stored.Status != quote.StatusPendingDispatch {
		t.Errorf("status = %s", stored.Status)
	}

	// Retry of a non-failed quote conflicts.
	w = doJSON(t, router, "POST", "/api/quotes/"+q.ID+"/retry", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestSourceRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t)
	q := createAndDispatch(t, router, "Q-009", "reintegrate")

	// No workbook stored yet.
	w := doJSON(t, router, "GET", "/api/jobs/"+q.ID+"/source", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	body, contentType := multipartBody(t, map[string][2]string{
		"excel": {"Q-009_Acme.xlsx", "workbook-bytes"},
	})
	req := httptest.NewRequest("POST", "/api/quotes/"+q.ID+"/source", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload source: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", "/api/jobs/"+q.ID+"/source", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download source: %d", w.Code)
	}
	if w.Body.String() != "workbook-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "Q-009_Acme.xlsx") {
		t.Errorf("disposition = %q", w.Header().Get("Content-Disposition"))
	}
}

func TestStatsCountsBridges(t *testing.T) {
	router, _ := newTestRouter(t)
	doJSON(t, router, "GET", "/api/jobs/next", nil)

	w := doJSON(t, router, "GET", "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	bridges := resp["bridges"].(map[string]any)
	if bridges["online"].(float64) != 1 {
		t.Errorf("expected 1 online bridge, got %v", bridges["online"])
	}
}

func TestListQuotesFilter(t *testing.T) {
	router, _ := newTestRouter(t)
	createAndDispatch(t, router, "Q-001", "create")
	createAndDispatch(t, router, "Q-002", "create")
	doJSON(t, router, "GET", "/api/jobs/next", nil)

	w := doJSON(t, router, "GET", "/api/quotes?status=pending_dispatch", nil)
	var resp struct {
		Quotes []quote.Quote `json:"quotes"`
		Total  int           `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 pending quote, got %d", resp.Total)
	}
}
