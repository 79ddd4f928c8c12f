package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/granitex/quotebridge/internal/dispatch"
)

// ErrReplyRejected means the dispatcher received the upload but could not
// decode the reply. The failure is already recorded server-side.
var ErrReplyRejected = errors.New("reply rejected by dispatcher")

// Client talks to the dispatcher's bridge API.
type Client struct {
	baseURL string
	agentID string
	http    *http.Client
}

func NewClient(baseURL, agentID string) *Client {
	return &Client{
		baseURL: baseURL,
		agentID: agentID,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Agent-ID", c.agentID)
	return req, nil
}

// NextJob polls for work. A nil job means the queue is empty.
func (c *Client) NextJob(ctx context.Context) (*dispatch.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/next", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var job dispatch.Job
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		return &job, nil
	default:
		return nil, fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}
}

// Ack tells the dispatcher the descriptor reached the exchange directory.
func (c *Client) Ack(ctx context.Context, jobID, filename string) error {
	payload, _ := json.Marshal(map[string]string{"filename": filename})
	req, err := c.newRequest(ctx, http.MethodPost, "/api/jobs/"+jobID+"/ack", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ack: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// UploadResult sends the reply and its companions as one multipart upload.
// Field names: xml, excel, pdf. Empty paths are skipped; the reply is not.
func (c *Client) UploadResult(ctx context.Context, jobID, xmlPath, excelPath, pdfPath string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	parts := []struct {
		field, path string
		required    bool
	}{
		{"xml", xmlPath, true},
		{"excel", excelPath, false},
		{"pdf", pdfPath, false},
	}
	for _, p := range parts {
		if p.path == "" {
			if p.required {
				return fmt.Errorf("reply file path is empty")
			}
			continue
		}
		f, err := os.Open(p.path)
		if err != nil {
			if p.required {
				return fmt.Errorf("open %s: %w", p.path, err)
			}
			continue
		}
		fw, err := mw.CreateFormFile(p.field, filepath.Base(p.path))
		if err == nil {
			_, err = io.Copy(fw, f)
		}
		f.Close()
		if err != nil {
			return fmt.Errorf("attach %s: %w", p.path, err)
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/jobs/"+jobID+"/result", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s", ErrReplyRejected, body)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Fail reports a step failure so the quote does not stay claimed forever.
func (c *Client) Fail(ctx context.Context, jobID, reason string) error {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	req, err := c.newRequest(ctx, http.MethodPost, "/api/jobs/"+jobID+"/fail", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fail report: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// DownloadSource fetches the job's source workbook to destPath. The write
// goes through a temp file and a rename so a dropped connection never
// leaves a truncated workbook, and an existing file survives any failure.
func (c *Client) DownloadSource(ctx context.Context, sourceURL, destPath string) error {
	req, err := c.newRequest(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download source: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move workbook into place: %w", err)
	}
	return nil
}
