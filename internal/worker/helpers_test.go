package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/internal/config"
	"github.com/urban-engineer/sved/internal/ffmpeg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClient builds a client with millisecond retries so failure paths stay
// fast.
func testClient(workDir string) *Client {
	return NewClient(config.WorkerConfig{
		RetryDelay:        5 * time.Millisecond,
		HeartbeatPeriod:   10 * time.Millisecond,
		DownloadChunkSize: 4,
	}, workDir, testLogger())
}

// sourceProbe is a 1080p source: 600 s, 14400 frames, 1 GB video stream.
// The 1080p budget is 60%, so artifacts at or under 600 MB pass.
func sourceProbe() *ffmpeg.ProbeResult {
	return &ffmpeg.ProbeResult{
		Format: ffmpeg.ProbeFormat{Duration: "600.000000"},
		Streams: []ffmpeg.ProbeStream{
			{
				Index:      0,
				CodecType:  "video",
				Width:      1920,
				Height:     1080,
				RFrameRate: "24/1",
				Tags: map[string]string{
					"NUMBER_OF_BYTES":         "1000000000",
					"NUMBER_OF_FRAMES":        "14400",
					"_STATISTICS_WRITING_APP": "mkvmerge v68.0.0",
				},
			},
		},
	}
}

// artifactProbe is an encoded copy whose video stream holds videoBytes.
func artifactProbe(videoBytes int64) *ffmpeg.ProbeResult {
	return &ffmpeg.ProbeResult{
		Format: ffmpeg.ProbeFormat{Duration: "600.000000"},
		Streams: []ffmpeg.ProbeStream{
			{
				Index:      0,
				CodecType:  "video",
				Width:      1920,
				Height:     1080,
				RFrameRate: "24/1",
				Tags: map[string]string{
					"NUMBER_OF_BYTES":         fmt.Sprintf("%d", videoBytes),
					"NUMBER_OF_FRAMES":        "14400",
					"_STATISTICS_WRITING_APP": "mkvmerge v68.0.0",
				},
			},
		},
	}
}

// sequencedProber pops fixtures per path; the last fixture sticks so repeat
// probes of a settled file keep answering.
type sequencedProber struct {
	results map[string][]*ffmpeg.ProbeResult
}

func (p *sequencedProber) Probe(_ context.Context, path string) (*ffmpeg.ProbeResult, error) {
	queue := p.results[path]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no probe fixture for %s", path)
	}
	result := queue[0]
	if len(queue) > 1 {
		p.results[path] = queue[1:]
	}
	return result, nil
}

type fakePropedit struct{}

func (fakePropedit) EnsureTrackStatistics(_ context.Context, _ string, _ *ffmpeg.ProbeResult) (bool, error) {
	return false, nil
}

// fakeRunner records commands instead of executing ffmpeg. By default it
// writes artifact bytes to the final argument when that looks like an output
// file; onRun overrides that per test.
type fakeRunner struct {
	commands [][]string
	failOn   int // 1-based command index that fails, 0 never
	progress []ffmpeg.Progress
	onRun    func(cmd *ffmpeg.Command) error
}

func (f *fakeRunner) run(_ context.Context, cmd *ffmpeg.Command, _ float64, onProgress func(ffmpeg.Progress)) error {
	f.commands = append(f.commands, cmd.Args)
	if f.failOn == len(f.commands) {
		return errors.New("child exited with code 1")
	}
	if f.onRun != nil {
		return f.onRun(cmd)
	}

	last := cmd.Args[len(cmd.Args)-1]
	if strings.HasSuffix(last, ".mkv") {
		if err := os.WriteFile(last, []byte("encoded bytes"), 0o644); err != nil {
			return err
		}
	}
	for _, block := range f.progress {
		if onProgress != nil {
			onProgress(block)
		}
	}
	return nil
}

func (f *fakeRunner) hasArgs(index int, want ...string) bool {
	if index >= len(f.commands) {
		return false
	}
	joined := " " + strings.Join(f.commands[index], " ") + " "
	return strings.Contains(joined, " "+strings.Join(want, " ")+" ")
}

type fakeLiveness struct{ closed bool }

func (f fakeLiveness) IsClosed() bool { return f.closed }

// coordinator is an httptest stand-in for the sved coordinator file and
// progress endpoints.
type coordinator struct {
	server *httptest.Server
	mux    *http.ServeMux

	mu       sync.Mutex
	progress []ProgressPayload
	uploads  map[string][]byte
	headers  map[string]http.Header
}

func newCoordinator(t *testing.T) *coordinator {
	t.Helper()
	c := &coordinator{
		mux:     http.NewServeMux(),
		uploads: map[string][]byte{},
		headers: map[string]http.Header{},
	}
	c.server = httptest.NewServer(c.mux)
	t.Cleanup(c.server.Close)
	return c
}

func (c *coordinator) url(path string) string {
	return c.server.URL + path
}

// serveTask returns the task record and collects progress posts on path.
func (c *coordinator) serveTask(t *testing.T, path string, task any) {
	t.Helper()
	body, err := json.Marshal(task)
	require.NoError(t, err)

	c.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var payload ProgressPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			c.mu.Lock()
			c.progress = append(c.progress, payload)
			c.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
}

// serveFile serves content on GET and records uploads on POST.
func (c *coordinator) serveFile(path string, content []byte) {
	c.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			c.mu.Lock()
			c.uploads[path] = body
			c.headers[path] = r.Header.Clone()
			c.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write(content)
	})
}

func (c *coordinator) progressPosts() []ProgressPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ProgressPayload(nil), c.progress...)
}

func (c *coordinator) upload(path string) ([]byte, http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads[path], c.headers[path]
}

// encodeAttempts filters progress posts down to the (re)start markers the
// control loop emits.
func encodeAttempts(posts []ProgressPayload) []ProgressPayload {
	var attempts []ProgressPayload
	for _, p := range posts {
		if p.EncodeType != "" {
			attempts = append(attempts, p)
		}
	}
	return attempts
}

func writeWorkFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}
