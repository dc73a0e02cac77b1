package worker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/internal/ffmpeg"
	"github.com/urban-engineer/sved/internal/metrics"
)

const testReport = `{"frames": [{"frameNum": 0, "metrics": {"vmaf": 95.1}}], "pooled_metrics": {"vmaf": {"min": 93.7, "max": 96.0, "mean": 94.9, "harmonic_mean": 94.8}}}`

func setupMetric(t *testing.T, task *MetricTask) (*coordinator, *MetricRunner, *fakeRunner, string) {
	t.Helper()

	coord := newCoordinator(t)
	task.SourceFileURL = coord.url("/api/metrics/tasks/3/files/source")
	task.CompressedFileURL = coord.url("/api/metrics/tasks/3/files/compressed")
	task.ReportURL = coord.url("/api/metrics/tasks/3/report")
	coord.serveFile("/api/metrics/tasks/3/files/source", []byte("reference bytes"))
	coord.serveFile("/api/metrics/tasks/3/files/compressed", []byte("compressed bytes"))
	coord.serveFile("/api/metrics/tasks/3/report", nil)
	coord.serveTask(t, "/api/metrics/tasks/3", task)

	workDir := t.TempDir()

	// A model file on disk keeps EnsureModel off the network.
	writeWorkFile(t, workDir, metrics.ModelFileName(task.NegMode), []byte("{}"))

	prober := &sequencedProber{results: map[string][]*ffmpeg.ProbeResult{
		filepath.Join(workDir, "movie_reference.mkv"):  {sourceProbe()},
		filepath.Join(workDir, "movie_compressed.mkv"): {artifactProbe(500_000_000)},
	}}
	run := &fakeRunner{
		progress: []ffmpeg.Progress{{Frame: 14400, FPS: 200, End: true}},
		onRun: func(cmd *ffmpeg.Command) error {
			return os.WriteFile(filepath.Join(cmd.Dir, ffmpeg.QualityReportName), []byte(testReport), 0o644)
		},
	}

	runner := NewMetricRunner(testClient(workDir), prober, "", workDir, testLogger())
	return coord, runner, run, workDir
}

func vmafTask() *MetricTask {
	return &MetricTask{
		ID:            3,
		SourceFile:    &TaskFile{Name: "movie.mkv"},
		SubsampleRate: 1,
	}
}

func TestMetricRunner_Process(t *testing.T) {
	task := vmafTask()
	coord, runner, run, workDir := setupMetric(t, task)

	require.NoError(t, runner.Process(context.Background(), run, task, coord.url("/api/metrics/tasks/3")))

	// Both inputs staged under worker-local names.
	reference, err := os.ReadFile(filepath.Join(workDir, "movie_reference.mkv"))
	require.NoError(t, err)
	assert.Equal(t, []byte("reference bytes"), reference)
	compressed, err := os.ReadFile(filepath.Join(workDir, "movie_compressed.mkv"))
	require.NoError(t, err)
	assert.Equal(t, []byte("compressed bytes"), compressed)

	require.Len(t, run.commands, 1)
	filter := strings.Join(run.commands[0], " ")
	assert.Contains(t, filter, "libvmaf=")
	assert.Contains(t, filter, "n_subsample=1")
	assert.Contains(t, filter, "vmaf_v0.6.1.json")

	body, headers := coord.upload("/api/metrics/tasks/3/report")
	assert.Equal(t, []byte(testReport), body)
	assert.Equal(t, strconv.Itoa(len(testReport)), headers.Get("size"))
	assert.Equal(t, Hostname(), headers.Get("Worker"))

	posts := coord.progressPosts()
	require.NotEmpty(t, posts)
	assert.Equal(t, 100.0, posts[len(posts)-1].Progress)
}

func TestMetricRunner_Process_ExtraFeatures(t *testing.T) {
	task := vmafTask()
	task.PSNR = true
	task.MSSSIM = true
	task.SubsampleRate = 5
	coord, runner, run, _ := setupMetric(t, task)

	require.NoError(t, runner.Process(context.Background(), run, task, coord.url("/api/metrics/tasks/3")))

	require.Len(t, run.commands, 1)
	filter := strings.Join(run.commands[0], " ")
	assert.Contains(t, filter, "feature=name=psnr|name=float_ms_ssim")
	assert.Contains(t, filter, "n_subsample=5")
}

func TestMetricRunner_Process_NegMode(t *testing.T) {
	task := vmafTask()
	task.NegMode = true
	coord, runner, run, _ := setupMetric(t, task)

	require.NoError(t, runner.Process(context.Background(), run, task, coord.url("/api/metrics/tasks/3")))

	filter := strings.Join(run.commands[0], " ")
	assert.Contains(t, filter, "vmaf_v0.6.1neg")
}

func TestMetricRunner_Process_FailedAnalysisDoesNotUpload(t *testing.T) {
	task := vmafTask()
	coord, runner, run, _ := setupMetric(t, task)
	run.failOn = 1

	err := runner.Process(context.Background(), run, task, coord.url("/api/metrics/tasks/3"))
	require.Error(t, err)

	body, _ := coord.upload("/api/metrics/tasks/3/report")
	assert.Nil(t, body)
}

func TestMetricRunner_Process_RemovesStaleReport(t *testing.T) {
	task := vmafTask()
	coord, runner, run, workDir := setupMetric(t, task)

	// A report left by a previous failed attempt must not be uploaded when
	// this run's ffmpeg produces nothing.
	writeWorkFile(t, workDir, ffmpeg.QualityReportName, []byte("stale"))
	run.onRun = func(*ffmpeg.Command) error { return nil }

	err := runner.Process(context.Background(), run, task, coord.url("/api/metrics/tasks/3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	body, _ := coord.upload("/api/metrics/tasks/3/report")
	assert.Nil(t, body)
}
