package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PdfLocator finds the rendered pdf companion of a workbook. The tool is
// inconsistent about where it writes pdfs: sometimes next to the workbook,
// sometimes in a folder whose trailing period it silently dropped,
// sometimes only in its scratch directory.
type PdfLocator struct {
	fallbackDir string
	attempts    int
	delay       time.Duration
}

func NewPdfLocator(cfg *Config) *PdfLocator {
	return &PdfLocator{
		fallbackDir: cfg.FallbackPdfDir,
		attempts:    cfg.PdfWaitAttempts,
		delay:       cfg.PdfWaitDelay,
	}
}

// Locate resolves the pdf for the workbook at localXlsxPath, polling while
// the tool may still be rendering.
func (l *PdfLocator) Locate(ctx context.Context, localXlsxPath string) (string, error) {
	pdfName := strings.TrimSuffix(filepath.Base(localXlsxPath), filepath.Ext(localXlsxPath)) + ".pdf"

	for attempt := 0; attempt < l.attempts; attempt++ {
		if found := l.lookOnce(localXlsxPath, pdfName); found != "" {
			return found, nil
		}
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("pdf %s not found after %d attempts", pdfName, l.attempts)
}

func (l *PdfLocator) lookOnce(localXlsxPath, pdfName string) string {
	dir := filepath.Dir(localXlsxPath)

	// Next to the workbook.
	if p := filepath.Join(dir, pdfName); exists(p) {
		return p
	}

	// The tool strips a trailing period from folder names it creates.
	if trimmed := strings.TrimSuffix(dir, "."); trimmed != dir {
		if p := filepath.Join(trimmed, pdfName); exists(p) {
			return p
		}
	}

	// Scratch directory.
	if l.fallbackDir != "" {
		if p := filepath.Join(l.fallbackDir, pdfName); exists(p) {
			return p
		}
	}
	return ""
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
