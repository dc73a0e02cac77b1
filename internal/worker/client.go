// Package worker implements the sved worker agent: a long-running broker
// consumer that claims one task at a time, stages inputs into a scratch
// directory, supervises ffmpeg, and streams results back to the coordinator.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/urban-engineer/sved/internal/config"
	"github.com/urban-engineer/sved/internal/version"
	"github.com/urban-engineer/sved/pkg/bytesize"
)

// TaskFile is the slice of the coordinator's file record the worker needs.
type TaskFile struct {
	Name string `json:"name"`
}

// TaskProfile carries the encoder knobs from the coordinator's profile record.
type TaskProfile struct {
	Codec                 string `json:"codec"`
	Preset                string `json:"preset"`
	Tune                  string `json:"tune"`
	KeepOriginalMainAudio bool   `json:"keep_original_main_audio"`
}

// EncodeTask is the worker's view of a claimed encode task.
type EncodeTask struct {
	ID          uint         `json:"id"`
	SourceFile  *TaskFile    `json:"source_file"`
	Profile     *TaskProfile `json:"profile"`
	EncodeType  string       `json:"encode_type"`
	EncodeValue int          `json:"encode_value"`
	FileURL     string       `json:"file_url"`
}

// MetricTask is the worker's view of a claimed metric task.
type MetricTask struct {
	ID                uint      `json:"id"`
	SourceFile        *TaskFile `json:"source_file"`
	PSNR              bool      `json:"psnr"`
	MSSSIM            bool      `json:"ms_ssim"`
	NegMode           bool      `json:"neg_mode"`
	SubsampleRate     int       `json:"subsample_rate"`
	SourceFileURL     string    `json:"source_file_url"`
	CompressedFileURL string    `json:"compressed_file_url"`
	ReportURL         string    `json:"report_url"`
}

// ProgressPayload is the body posted against a task while a subprocess runs.
// FPS and ETA are omitted on the zero-progress post a (re)started encode
// sends; the coordinator applies its own defaults then.
type ProgressPayload struct {
	Progress    float64  `json:"progress"`
	FPS         *float64 `json:"fps,omitempty"`
	ETA         *int64   `json:"eta,omitempty"`
	EncodeType  string   `json:"encode_type,omitempty"`
	EncodeValue *int     `json:"encode_value,omitempty"`
}

// Client talks to the coordinator. Transfers ride a retryable client with a
// fixed back-off and no attempt cap: the worker has nothing better to do than
// wait for the coordinator to come back. Claims and progress posts go out
// once; a failed claim returns the message to the queue, and a dropped
// progress update is stale the moment the next block arrives.
type Client struct {
	retry      *retryablehttp.Client
	single     *http.Client
	workerID   string
	workDir    string
	chunkSize  int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient builds a coordinator client. workDir is where error dumps land.
func NewClient(cfg config.WorkerConfig, workDir string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	retry := retryablehttp.NewClient()
	retry.Logger = nil
	retry.RetryMax = math.MaxInt32
	retry.RetryWaitMin = cfg.RetryDelay
	retry.RetryWaitMax = cfg.RetryDelay
	retry.Backoff = func(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return min
	}
	retry.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return resp.StatusCode != http.StatusOK, nil
	}

	chunkSize := cfg.DownloadChunkSize
	if chunkSize <= 0 {
		chunkSize = 8 * 1024
	}

	return &Client{
		retry:      retry,
		single:     &http.Client{},
		workerID:   Hostname(),
		workDir:    workDir,
		chunkSize:  chunkSize,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Hostname returns the worker identity sent in the Worker header. The
// HOSTNAME environment variable wins so container deployments can pin it.
func Hostname() string {
	if name := os.Getenv("HOSTNAME"); name != "" {
		return name
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		return version.ApplicationName + "-worker"
	}
	return name
}

// WorkerID returns the identity this client presents to the coordinator.
func (c *Client) WorkerID() string {
	return c.workerID
}

// Retry exposes the underlying retryable client for callers that need the
// same back-off behavior, like the VMAF model fetch.
func (c *Client) Retry() *retryablehttp.Client {
	return c.retry
}

// Claim fetches the task record behind an envelope URL. One attempt only: a
// failed claim fails the delivery and the broker redelivers. An HTML error
// page is dumped to error.html in the work directory for inspection.
func (c *Client) Claim(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building claim request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.single.Do(req)
	if err != nil {
		return fmt.Errorf("claiming task at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if bytes.Contains(body, []byte("<html")) {
			dump := filepath.Join(c.workDir, "error.html")
			if mkErr := os.MkdirAll(c.workDir, 0o755); mkErr == nil {
				if writeErr := os.WriteFile(dump, body, 0o644); writeErr == nil {
					c.logger.Warn("received html error response", slog.String("path", dump))
				}
			}
		} else if len(body) > 0 {
			c.logger.Debug("claim response body", slog.String("body", string(body)))
		}
		return fmt.Errorf("claiming task at %s: status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding task record: %w", err)
	}
	return nil
}

// Download streams the file at url into dest. Connection loss mid-body
// restarts the whole transfer after the retry delay; non-200 responses and
// dial failures are retried inside the HTTP client with the same delay.
func (c *Client) Download(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}

	for {
		err := c.downloadOnce(ctx, url, dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("download failed, retrying",
			slog.String("url", url),
			slog.Duration("delay", c.retryDelay),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) downloadOnce(ctx context.Context, url, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}
	req.Header.Set("Worker", c.workerID)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.retry.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	written, err := io.CopyBuffer(file, resp.Body, make([]byte, c.chunkSize))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("writing %s: %w", dest, err)
	}

	c.logger.Debug("download complete",
		slog.String("path", dest),
		slog.String("size", bytesize.Format(written)),
	)
	return nil
}

// Upload streams the file at path to url with the Worker and size headers.
// The coordinator compares the size header against the bytes it received, so
// the header must reflect the on-disk size exactly.
func (c *Client) Upload(ctx context.Context, url, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, file)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Worker", c.workerID)
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("size", strconv.FormatInt(info.Size(), 10))

	c.logger.Info("uploading file",
		slog.String("path", path),
		slog.String("url", url),
		slog.String("size", bytesize.Format(info.Size())),
	)

	resp, err := c.retry.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	resp.Body.Close()
	return nil
}

// PostProgress sends a progress update. Best effort: a lost update is
// superseded by the next block, so failures only warn.
func (c *Client) PostProgress(ctx context.Context, url string, payload ProgressPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("could not marshal progress update", slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Worker", c.workerID)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.single.Do(req)
	if err != nil {
		c.logger.Warn("could not send progress update to coordinator", slog.String("error", err.Error()))
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("progress update rejected",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
		)
	}
}

func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }
func intPtr(v int) *int           { return &v }
