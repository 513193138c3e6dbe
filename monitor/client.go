package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Frame is one message on the per-job push channel.
type Frame struct {
	UploadID string          `json:"upload_id,omitempty"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
}

const (
	FrameTypeLog    = "log"
	FrameTypeStatus = "status"
)

// LogFrameData is the payload of a "log" frame. Timestamp is seconds since
// the Unix epoch, fractional.
type LogFrameData struct {
	Message   string  `json:"message"`
	Level     string  `json:"level"`
	Timestamp float64 `json:"timestamp"`
}

// StatusFrameData is the payload of a "status" frame and of the pull status
// endpoint.
type StatusFrameData struct {
	Status        string `json:"status"`
	ChunksCreated int    `json:"chunks_created"`
	ChunksStored  int    `json:"chunks_stored"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Backend is the gateway surface the monitor consumes: one pull path and one
// push path, both keyed by job id.
type Backend interface {
	// JobStatus issues one status query.
	JobStatus(ctx context.Context, jobID string) (StatusReport, error)
	// OpenEvents opens the per-job push channel. The returned channel closes
	// when the stream ends, fails, or ctx is cancelled.
	OpenEvents(ctx context.Context, jobID string) (<-chan Frame, error)
}

// Client talks to the finsight gateway over HTTP. It implements Backend.
type Client struct {
	baseURL string
	httpc   *http.Client
	streamc *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		// The events stream is long-lived; cancellation comes from ctx.
		streamc: &http.Client{},
		log:     log,
	}
}

// UploadRequest carries the multipart fields for starting an ingestion job.
// JobID is client-generated so progress can be monitored from the first byte.
type UploadRequest struct {
	JobID       string
	FilePath    string
	CompanyID   string
	CompanyName string
	FiscalYear  string
}

// Upload streams the file to the gateway. onProgress, if set, receives the
// byte-transfer percentage in [0,100] as the body is consumed.
func (c *Client) Upload(ctx context.Context, req UploadRequest, onProgress func(pct float64)) (string, error) {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return "", fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload file: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeUploadBody(mw, req, file, info.Size(), onProgress)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", pr)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.streamc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload rejected: %s", readAPIError(resp.Body, resp.Status))
	}

	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return envelope.Data.ID, nil
}

func writeUploadBody(mw *multipart.Writer, req UploadRequest, file io.Reader, size int64, onProgress func(float64)) error {
	fields := map[string]string{
		"upload_id":    req.JobID,
		"company_id":   req.CompanyID,
		"company_name": req.CompanyName,
		"fiscal_year":  req.FiscalYear,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("file", filepath.Base(req.FilePath))
	if err != nil {
		return err
	}

	src := file
	if onProgress != nil && size > 0 {
		src = &progressReader{r: file, total: size, onProgress: onProgress}
	}
	_, err = io.Copy(part, src)
	return err
}

// progressReader reports cumulative read percentage as the request body is
// consumed by the HTTP transport.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(pct float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.onProgress(float64(p.read) / float64(p.total) * 100)
	}
	return n, err
}

// JobStatus queries the pull endpoint once.
func (c *Client) JobStatus(ctx context.Context, jobID string) (StatusReport, error) {
	url := fmt.Sprintf("%s/uploads/%s/status", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusReport{}, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return StatusReport{}, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusReport{}, fmt.Errorf("status query failed: %s", readAPIError(resp.Body, resp.Status))
	}

	var envelope struct {
		Data StatusFrameData `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return StatusReport{}, fmt.Errorf("decode status response: %w", err)
	}
	return StatusReport{
		Status:        envelope.Data.Status,
		ChunksCreated: envelope.Data.ChunksCreated,
		ChunksStored:  envelope.Data.ChunksStored,
		ErrorMessage:  envelope.Data.ErrorMessage,
	}, nil
}

// OpenEvents attaches to the per-job SSE stream and decodes frames until the
// stream ends or ctx is cancelled.
func (c *Client) OpenEvents(ctx context.Context, jobID string) (<-chan Frame, error) {
	url := fmt.Sprintf("%s/uploads/%s/events", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream rejected: %s", resp.Status)
	}

	frames := make(chan Frame, 16)
	go func() {
		defer close(frames)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			// Keepalive comments and event names carry nothing we consume.
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var f Frame
			if err := json.Unmarshal([]byte(payload), &f); err != nil {
				c.log.Warn("bad event stream payload", "error", err, "job_id", jobID)
				continue
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.log.Warn("event stream read failed", "error", err, "job_id", jobID)
		}
	}()
	return frames, nil
}

func readAPIError(body io.Reader, fallback string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return fallback
}
