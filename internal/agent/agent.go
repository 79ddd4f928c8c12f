package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/granitex/quotebridge/internal/dispatch"
	"github.com/granitex/quotebridge/internal/quote"
)

// Agent is the bridge runtime: it polls the dispatcher for jobs, shuttles
// descriptor files through the exchange directory and uploads whatever the
// tool produces. One job at a time; the tool itself is single-threaded.
type Agent struct {
	cfg     *Config
	client  *Client
	watcher *Watcher
	locator *PdfLocator
	log     *slog.Logger
}

func New(cfg *Config, log *slog.Logger) *Agent {
	return &Agent{
		cfg:     cfg,
		client:  NewClient(cfg.APIBase, cfg.AgentID),
		watcher: NewWatcher(cfg),
		locator: NewPdfLocator(cfg),
		log:     log,
	}
}

// Run polls until the context is cancelled. Poll errors are logged and
// retried on the next tick; an unreachable dispatcher must never kill an
// unattended bridge.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("bridge started",
		"agent_id", a.cfg.AgentID,
		"api", a.cfg.APIBase,
		"exchange_dir", a.cfg.ExchangeDir)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := a.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("job cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			a.log.Info("bridge stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce polls once and carries a job end to end if one is available.
func (a *Agent) RunOnce(ctx context.Context) error {
	job, err := a.client.NextJob(ctx)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	if job == nil {
		return nil
	}

	a.log.Info("job received", "reference", job.Reference, "kind", job.Kind, "file", job.TargetFilename)

	if err := a.process(ctx, job); err != nil {
		// Only step failures are reported; a rejected reply was already
		// recorded by the dispatcher itself.
		var step *stepError
		if errors.As(err, &step) {
			if failErr := a.client.Fail(ctx, job.ID, step.reason); failErr != nil {
				a.log.Error("could not report failure", "reference", job.Reference, "error", failErr)
			}
		}
		return fmt.Errorf("job %s: %w", job.Reference, err)
	}

	a.log.Info("job finished", "reference", job.Reference)
	return nil
}

// stepError tags a failure with the lifecycle reason reported upstream.
type stepError struct {
	reason string
	err    error
}

func (e *stepError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func failStep(reason quote.FailReason, err error) error {
	return &stepError{reason: string(reason), err: err}
}

func (a *Agent) process(ctx context.Context, job *dispatch.Job) error {
	// 1. Materialize the source workbook when the tool needs one to read.
	if job.SourceURL != "" {
		dest := a.cfg.LocalPath(job.TargetPath)
		a.log.Info("downloading source workbook", "dest", dest)
		if err := a.client.DownloadSource(ctx, job.SourceURL, dest); err != nil {
			return failStep(quote.FailDownload, err)
		}
	}

	// 2. Drop the descriptor into the exchange directory. The write is
	// temp-and-rename so the tool never reads a half-written descriptor.
	descPath := filepath.Join(a.cfg.ExchangeDir, job.TargetFilename)
	start := time.Now()
	if err := writeFileAtomic(descPath, []byte(job.Descriptor)); err != nil {
		return failStep(quote.FailUpload, fmt.Errorf("write descriptor: %w", err))
	}
	a.log.Info("descriptor placed", "file", job.TargetFilename)

	// 3. Tell the dispatcher the handoff happened. Best effort: the tool
	// is already working, so an unreachable dispatcher is not a reason to
	// abandon the job.
	if err := a.client.Ack(ctx, job.ID, job.TargetFilename); err != nil {
		a.log.Warn("ack failed", "reference", job.Reference, "error", err)
	}

	// 4. Wait for the tool's reply.
	replyPath, err := a.watcher.WaitForReply(ctx, job.TargetFilename, start)
	if err != nil {
		if errors.Is(err, ErrReplyTimeout) {
			return failStep(quote.FailTimeout, err)
		}
		return err
	}
	a.log.Info("reply found", "file", filepath.Base(replyPath))

	// 5. Collect companions.
	excelPath := a.cfg.LocalPath(job.TargetPath)
	if !exists(excelPath) {
		excelPath = ""
	}

	var pdfPath string
	if job.ExpectsPdf {
		pdfPath, err = a.locator.Locate(ctx, a.cfg.LocalPath(job.TargetPath))
		if err != nil {
			// The reply alone is still worth reporting.
			a.log.Warn("pdf companion missing", "reference", job.Reference, "error", err)
		}
	}

	// 6. Upload. The reply file is only removed from the exchange
	// directory once the dispatcher confirms it has everything.
	if err := a.client.UploadResult(ctx, job.ID, replyPath, excelPath, pdfPath); err != nil {
		if errors.Is(err, ErrReplyRejected) {
			return err
		}
		return failStep(quote.FailUpload, err)
	}
	if err := os.Remove(replyPath); err != nil {
		a.log.Warn("could not remove reply file", "file", replyPath, "error", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".descriptor-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
