package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/granitex/quotebridge/internal/artifact"
	"github.com/granitex/quotebridge/internal/config"
	"github.com/granitex/quotebridge/internal/dispatch"
	"github.com/granitex/quotebridge/internal/presence"
	"github.com/granitex/quotebridge/internal/quote"
)

var startTime = time.Now()

// maxUploadBytes caps a single multipart upload. Workbooks run a few MB;
// anything near this limit is not a workbook.
const maxUploadBytes = 64 << 20

type Handlers struct {
	cfg        *config.Config
	store      quote.Store
	dispatcher *dispatch.Dispatcher
	artifacts  *artifact.Store
	registry   *presence.Registry
}

func NewHandlers(cfg *config.Config, store quote.Store, d *dispatch.Dispatcher, artifacts *artifact.Store, registry *presence.Registry) *Handlers {
	return &Handlers{
		cfg:        cfg,
		store:      store,
		dispatcher: d,
		artifacts:  artifacts,
		registry:   registry,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"version":        "0.1.0",
		"uptime_seconds": int(time.Since(startTime).Seconds()),
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	pending, claimed, completed, failed := h.store.Stats()

	bridges := h.registry.List()
	online := 0
	now := time.Now()
	for _, b := range bridges {
		if b.Online(now) {
			online++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"bridges": map[string]int{
			"known":  len(bridges),
			"online": online,
		},
		"quotes": map[string]int{
			"pending":         pending,
			"claimed":         claimed,
			"completed_total": completed,
			"failed_total":    failed,
		},
	})
}

type QuoteRequest struct {
	Reference string       `json:"reference"`
	Kind      string       `json:"kind,omitempty"`
	Params    quote.Params `json:"params"`
	Dispatch  bool         `json:"dispatch,omitempty"`
}

func (h *Handlers) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reference == "" {
		writeError(w, http.StatusBadRequest, "reference is required")
		return
	}

	kind := quote.Kind(req.Kind)
	if req.Kind == "" {
		kind = quote.KindCreate
	}
	switch kind {
	case quote.KindCreate, quote.KindReintegrate, quote.KindRevise, quote.KindDuplicate, quote.KindPrintLabel:
	default:
		writeError(w, http.StatusBadRequest, "unknown kind: "+req.Kind)
		return
	}

	if existing, err := h.store.GetByReference(req.Reference); err == nil && existing.Status != quote.StatusCompleted {
		writeError(w, http.StatusConflict, "reference already queued: "+req.Reference)
		return
	}

	q := quote.New(req.Reference, kind, req.Params)
	if err := h.store.Add(q); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Dispatch {
		updated, err := h.dispatcher.Dispatch(q.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		q = updated
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "quote not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handlers) ListQuotes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := r.URL.Query().Get("status")

	if limit <= 0 {
		limit = 20
	}

	quotes, total := h.store.List(limit, offset, status)
	writeJSON(w, http.StatusOK, map[string]any{
		"quotes": quotes,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handlers) DispatchQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.dispatcher.Dispatch(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handlers) RetryQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.dispatcher.Retry(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// UploadSource stores the workbook a reintegration job will feed back to
// the tool. Field name: excel.
func (h *Handlers) UploadSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "quote not found")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	f, header, err := r.FormFile("excel")
	if err != nil {
		writeError(w, http.StatusBadRequest, "excel file is required")
		return
	}
	defer f.Close()

	rel, err := h.artifacts.Save(id, header.Filename, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": rel})
}

func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	names, err := h.artifacts.List(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": names})
}

func (h *Handlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	f, err := h.artifacts.Open(id, name)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}

// NextJob is the bridge poll. An empty queue answers 204 so an unattended
// bridge can poll forever without log noise.
func (h *Handlers) NextJob(w http.ResponseWriter, r *http.Request) {
	bridgeID := r.Header.Get("X-Agent-ID")
	h.registry.Touch(bridgeID, r.RemoteAddr)

	job, err := h.dispatcher.Claim(bridgeID)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoWork) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type AckRequest struct {
	Filename string `json:"filename"`
}

func (h *Handlers) AckJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bridgeID := r.Header.Get("X-Agent-ID")
	h.registry.Touch(bridgeID, r.RemoteAddr)

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.dispatcher.Ack(id, bridgeID, req.Filename); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// UploadResult ingests the tool's reply. Multipart fields: xml (required),
// excel and pdf (optional companions). Artifacts are stored before the
// reply is decoded so a parse failure still leaves the evidence on disk.
func (h *Handlers) UploadResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bridgeID := r.Header.Get("X-Agent-ID")
	h.registry.Touch(bridgeID, r.RemoteAddr)

	if _, err := h.store.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "quote not found")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	xmlFile, xmlHeader, err := r.FormFile("xml")
	if err != nil {
		writeError(w, http.StatusBadRequest, "xml file is required")
		return
	}
	defer xmlFile.Close()

	replyXML, err := io.ReadAll(xmlFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable xml upload")
		return
	}

	var artifacts []string
	if rel, err := h.artifacts.Save(id, xmlHeader.Filename, bytes.NewReader(replyXML)); err == nil {
		artifacts = append(artifacts, rel)
	}
	for _, field := range []string{"excel", "pdf"} {
		f, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		rel, err := h.artifacts.Save(id, header.Filename, f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		artifacts = append(artifacts, rel)
	}

	q, err := h.dispatcher.IngestResult(id, bridgeID, replyXML, artifacts)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type FailRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) FailJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bridgeID := r.Header.Get("X-Agent-ID")
	h.registry.Touch(bridgeID, r.RemoteAddr)

	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.dispatcher.MarkFailed(id, bridgeID, quote.FailReason(req.Reason)); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

// DownloadSource serves the workbook a bridge materializes locally before
// handing a reintegration descriptor to the tool. The newest stored
// workbook wins.
func (h *Handlers) DownloadSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.registry.Touch(r.Header.Get("X-Agent-ID"), r.RemoteAddr)

	name, err := h.artifacts.Latest(id, ".xlsx")
	if err != nil {
		writeError(w, http.StatusNotFound, "no source workbook stored")
		return
	}
	f, err := h.artifacts.Open(id, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	io.Copy(w, f)
}

func (h *Handlers) ListBridges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"bridges": h.registry.List()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quote.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quote.ErrNotClaimable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
