package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/granitex/quotebridge/internal/codec"
	"github.com/granitex/quotebridge/internal/events"
	"github.com/granitex/quotebridge/internal/presence"
	"github.com/granitex/quotebridge/internal/quote"
)

// ErrNoWork is returned by Claim when the queue is empty.
var ErrNoWork = errors.New("no work available")

// Job is what a bridge receives when it claims a quote: the descriptor to
// drop into the exchange directory plus everything it needs to carry the
// round trip.
type Job struct {
	ID             string `json:"id"`
	Reference      string `json:"reference"`
	Kind           string `json:"kind"`
	Descriptor     string `json:"descriptor"`
	TargetFilename string `json:"target_filename"`
	TargetPath     string `json:"target_path"`
	SourcePath     string `json:"source_path,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
	ExpectsPdf     bool   `json:"expects_pdf,omitempty"`
}

// Dispatcher owns the quote lifecycle on the server side: it hands jobs to
// bridges and ingests what comes back.
type Dispatcher struct {
	store    quote.Store
	enc      *codec.Encoder
	hub      *events.Hub
	registry *presence.Registry
	log      *slog.Logger
}

func New(store quote.Store, enc *codec.Encoder, hub *events.Hub, registry *presence.Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		enc:      enc,
		hub:      hub,
		registry: registry,
		log:      log,
	}
}

// Dispatch queues an idle quote. Reintegration kinds go to the reimport
// queue, everything else to the dispatch queue.
func (d *Dispatcher) Dispatch(id string) (*quote.Quote, error) {
	q, err := d.store.Get(id)
	if err != nil {
		return nil, err
	}
	switch q.Status {
	case quote.StatusIdle, quote.StatusFailed:
	default:
		return nil, fmt.Errorf("%w: %s is %s", quote.ErrNotClaimable, id, q.Status)
	}

	if q.Kind == quote.KindReintegrate {
		q.Status = quote.StatusPendingReimport
	} else {
		q.Status = quote.StatusPendingDispatch
	}
	q.FailReason = ""
	if err := d.store.Update(q); err != nil {
		return nil, err
	}

	if !d.registry.Online() {
		d.log.Warn("quote queued with no bridge online", "quote", q.Reference)
	}
	d.publish(events.Event{Type: events.TypeStatusChanged, QuoteID: q.ID, Reference: q.Reference, Status: string(q.Status)})
	return q, nil
}

// Claim atomically hands the oldest pending quote to a bridge and encodes
// its descriptor. ErrNoWork means an empty queue.
func (d *Dispatcher) Claim(bridgeID string) (*Job, error) {
	q, err := d.store.ClaimNext()
	if err != nil {
		if errors.Is(err, quote.ErrNoPending) {
			return nil, ErrNoWork
		}
		return nil, err
	}

	desc, err := d.enc.Encode(q)
	if err != nil {
		// A quote that cannot be encoded would wedge the head of the
		// queue; park it as failed instead.
		d.store.Fail(q.ID, quote.FailParse)
		return nil, fmt.Errorf("encode %s: %w", q.Reference, err)
	}

	q.TargetPath = desc.TargetPath
	q.SourcePath = desc.SourcePath
	if err := d.store.Update(q); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             q.ID,
		Reference:      q.Reference,
		Kind:           string(q.Kind),
		Descriptor:     desc.Content,
		TargetFilename: desc.Filename,
		TargetPath:     desc.TargetPath,
		SourcePath:     desc.SourcePath,
		ExpectsPdf:     q.Kind.ExpectsPdf(),
	}
	if q.Kind.NeedsSource() {
		job.SourceURL = fmt.Sprintf("/api/jobs/%s/source", q.ID)
	}

	d.registry.SetWorking(bridgeID, q.ID)
	d.log.Info("job claimed",
		"quote", q.Reference,
		"kind", q.Kind,
		"bridge", bridgeID,
		"file", desc.Filename)
	d.publish(events.Event{Type: events.TypeClaimed, QuoteID: q.ID, Reference: q.Reference, Status: string(q.Status), BridgeID: bridgeID})
	return job, nil
}

// Ack records that the bridge placed the descriptor in the exchange
// directory and is now waiting on the tool.
func (d *Dispatcher) Ack(id, bridgeID, filename string) error {
	if err := d.store.MarkHandoff(id, filename); err != nil {
		return err
	}
	d.log.Info("descriptor handed off", "quote_id", id, "bridge", bridgeID, "file", filename)
	return nil
}

// IngestResult decodes a tool reply and replaces the quote's lines with
// its rows. Undecodable replies fail the quote with the parse reason and
// leave previously stored lines untouched. Ingesting the same reply twice
// converges on the same stored state.
func (d *Dispatcher) IngestResult(id, bridgeID string, replyXML []byte, artifacts []string) (*quote.Quote, error) {
	q, err := d.store.Get(id)
	if err != nil {
		return nil, err
	}

	reply, err := codec.DecodeReply(bytes.NewReader(replyXML))
	if err != nil {
		d.store.Fail(id, quote.FailParse)
		d.registry.JobDone(bridgeID, true)
		d.log.Warn("reply rejected", "quote", q.Reference, "error", err)
		d.publish(events.Event{Type: events.TypeFailed, QuoteID: id, Reference: q.Reference, Status: string(quote.StatusFailed), FailReason: string(quote.FailParse), BridgeID: bridgeID})
		return nil, fmt.Errorf("decode reply for %s: %w", q.Reference, err)
	}

	if reply.Meta.TargetPath != "" && reply.Meta.TargetPath != q.TargetPath {
		d.log.Info("tool relocated workbook",
			"quote", q.Reference,
			"requested", q.TargetPath,
			"actual", reply.Meta.TargetPath)
		q.TargetPath = reply.Meta.TargetPath
		if err := d.store.Update(q); err != nil {
			return d.failPersist(q, bridgeID, fmt.Errorf("update target for %s: %w", q.Reference, err))
		}
	}

	// The reply is the sole source of truth for line items; an empty row
	// set replaces them too. The one exception is the label/pdf render,
	// which answers with no rows and never touches pricing.
	lines, total := reply.Lines, reply.Total()
	if len(lines) == 0 && q.Kind == quote.KindPrintLabel {
		lines, total = q.Lines, q.TotalAmount
	}
	if err := d.store.Complete(id, lines, total, artifacts); err != nil {
		return d.failPersist(q, bridgeID, fmt.Errorf("persist reply for %s: %w", q.Reference, err))
	}

	d.registry.JobDone(bridgeID, false)
	d.log.Info("quote completed",
		"quote", q.Reference,
		"lines", len(lines),
		"total", total,
		"bridge", bridgeID)
	d.publish(events.Event{Type: events.TypeCompleted, QuoteID: id, Reference: q.Reference, Status: string(quote.StatusCompleted), BridgeID: bridgeID})
	return d.store.Get(id)
}

// failPersist records a persistence failure during ingest so the quote
// does not sit claimed forever behind an error nobody retries.
func (d *Dispatcher) failPersist(q *quote.Quote, bridgeID string, err error) (*quote.Quote, error) {
	if ferr := d.store.Fail(q.ID, quote.FailUpload); ferr != nil {
		d.log.Error("could not record persistence failure", "quote", q.Reference, "error", ferr)
	}
	d.registry.JobDone(bridgeID, true)
	d.log.Error("reply could not be stored", "quote", q.Reference, "error", err)
	d.publish(events.Event{Type: events.TypeFailed, QuoteID: q.ID, Reference: q.Reference, Status: string(quote.StatusFailed), FailReason: string(quote.FailUpload), BridgeID: bridgeID})
	return nil, err
}

// MarkFailed records a bridge-reported failure.
func (d *Dispatcher) MarkFailed(id, bridgeID string, reason quote.FailReason) error {
	switch reason {
	case quote.FailTimeout, quote.FailParse, quote.FailUpload, quote.FailDownload:
	default:
		reason = quote.FailTimeout
	}
	q, err := d.store.Get(id)
	if err != nil {
		return err
	}
	if err := d.store.Fail(id, reason); err != nil {
		return err
	}
	d.registry.JobDone(bridgeID, true)
	d.log.Warn("quote failed", "quote", q.Reference, "reason", reason, "bridge", bridgeID)
	d.publish(events.Event{Type: events.TypeFailed, QuoteID: id, Reference: q.Reference, Status: string(quote.StatusFailed), FailReason: string(reason), BridgeID: bridgeID})
	return nil
}

// Retry puts a failed quote back into its queue.
func (d *Dispatcher) Retry(id string) (*quote.Quote, error) {
	if err := d.store.Requeue(id); err != nil {
		return nil, err
	}
	q, err := d.store.Get(id)
	if err != nil {
		return nil, err
	}
	d.log.Info("quote requeued", "quote", q.Reference)
	d.publish(events.Event{Type: events.TypeStatusChanged, QuoteID: q.ID, Reference: q.Reference, Status: string(q.Status)})
	return q, nil
}

func (d *Dispatcher) publish(ev events.Event) {
	if d.hub != nil {
		d.hub.Publish(ev)
	}
}
