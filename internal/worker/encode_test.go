package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/internal/ffmpeg"
)

type encodeEnv struct {
	coord   *coordinator
	runner  *fakeRunner
	prober  *sequencedProber
	workDir string
	task    *EncodeTask
	taskURL string
}

func setupEncode(t *testing.T, task *EncodeTask) *encodeEnv {
	t.Helper()

	coord := newCoordinator(t)
	task.FileURL = coord.url("/api/encodes/tasks/1/file")
	coord.serveFile("/api/encodes/tasks/1/file", []byte("source bytes"))
	coord.serveTask(t, "/api/encodes/tasks/1", task)

	workDir := t.TempDir()
	return &encodeEnv{
		coord: coord,
		runner: &fakeRunner{progress: []ffmpeg.Progress{
			{Frame: 7200, FPS: 100},
			{Frame: 14400, FPS: 100, End: true},
		}},
		prober: &sequencedProber{results: map[string][]*ffmpeg.ProbeResult{
			filepath.Join(workDir, "movie.mkv"): {sourceProbe()},
		}},
		workDir: workDir,
		task:    task,
		taskURL: coord.url("/api/encodes/tasks/1"),
	}
}

func (e *encodeEnv) outputPath() string {
	return filepath.Join(e.workDir, "movie_compressed.mkv")
}

func (e *encodeEnv) process(t *testing.T) error {
	t.Helper()
	runner := NewEncodeRunner(testClient(e.workDir), e.prober, fakePropedit{}, "", e.workDir, testLogger())
	return runner.Process(context.Background(), e.runner, e.task, e.taskURL)
}

func crfTask(value int) *EncodeTask {
	return &EncodeTask{
		ID:          1,
		SourceFile:  &TaskFile{Name: "movie.mkv"},
		Profile:     &TaskProfile{Codec: "h265", Preset: "slow"},
		EncodeType:  "crf",
		EncodeValue: value,
	}
}

func TestEncodeRunner_Process(t *testing.T) {
	env := setupEncode(t, crfTask(18))
	env.prober.results[env.outputPath()] = []*ffmpeg.ProbeResult{artifactProbe(500_000_000)}

	// Leftover rate-control logs from an aborted two-pass run must go.
	staleLog := writeWorkFile(t, env.workDir, "ffmpeg2pass-0.log", []byte("stale"))

	require.NoError(t, env.process(t))

	require.Len(t, env.runner.commands, 1)
	assert.True(t, env.runner.hasArgs(0, "-crf", "18"))

	body, headers := env.coord.upload("/api/encodes/tasks/1/file")
	assert.Equal(t, []byte("encoded bytes"), body)
	assert.Equal(t, "13", headers.Get("size"))
	assert.Equal(t, Hostname(), headers.Get("Worker"))

	posts := env.coord.progressPosts()
	attempts := encodeAttempts(posts)
	require.Len(t, attempts, 1)
	assert.Equal(t, "crf", attempts[0].EncodeType)
	assert.Equal(t, 18, *attempts[0].EncodeValue)
	assert.Zero(t, attempts[0].Progress)

	final := posts[len(posts)-1]
	assert.Equal(t, 100.0, final.Progress)
	assert.Equal(t, int64(0), *final.ETA)

	assert.NoFileExists(t, staleLog)
}

func TestEncodeRunner_Process_EscalatesCRF(t *testing.T) {
	env := setupEncode(t, crfTask(18))
	env.prober.results[env.outputPath()] = []*ffmpeg.ProbeResult{
		artifactProbe(700_000_000), // over the 600 MB budget
		artifactProbe(500_000_000),
	}

	require.NoError(t, env.process(t))

	require.Len(t, env.runner.commands, 2)
	assert.True(t, env.runner.hasArgs(0, "-crf", "18"))
	assert.True(t, env.runner.hasArgs(1, "-crf", "19"))

	attempts := encodeAttempts(env.coord.progressPosts())
	require.Len(t, attempts, 2)
	assert.Equal(t, 18, *attempts[0].EncodeValue)
	assert.Equal(t, 19, *attempts[1].EncodeValue)
}

func TestEncodeRunner_Process_SwitchesToTwoPassAtMaxCRF(t *testing.T) {
	env := setupEncode(t, crfTask(24))
	// Never fits: after CRF 24 fails the loop must go two-pass and stop.
	env.prober.results[env.outputPath()] = []*ffmpeg.ProbeResult{artifactProbe(700_000_000)}

	require.NoError(t, env.process(t))

	require.Len(t, env.runner.commands, 3)
	assert.True(t, env.runner.hasArgs(0, "-crf", "24"))
	assert.True(t, env.runner.hasArgs(1, "-f", "null"))
	// 60% of 1 GB over 600 s is 8000 kb/s.
	assert.True(t, env.runner.hasArgs(1, "-b:v", "8000k"))
	assert.True(t, env.runner.hasArgs(2, "-b:v", "8000k"))

	attempts := encodeAttempts(env.coord.progressPosts())
	require.Len(t, attempts, 2)
	assert.Equal(t, "crf", attempts[0].EncodeType)
	assert.Equal(t, "abr", attempts[1].EncodeType)
	assert.Equal(t, 8000, *attempts[1].EncodeValue)
}

func TestEncodeRunner_Process_ABRTask(t *testing.T) {
	task := crfTask(8000)
	task.EncodeType = "abr"
	env := setupEncode(t, task)

	require.NoError(t, env.process(t))

	require.Len(t, env.runner.commands, 2)
	assert.True(t, env.runner.hasArgs(0, "-f", "null"))
	assert.True(t, env.runner.hasArgs(1, "-b:v", "8000k"))

	attempts := encodeAttempts(env.coord.progressPosts())
	require.Len(t, attempts, 1)
	assert.Equal(t, "abr", attempts[0].EncodeType)
}

func TestEncodeRunner_Process_FailureUnlinksPartials(t *testing.T) {
	env := setupEncode(t, crfTask(18))
	env.runner.failOn = 1

	err := env.process(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoding movie.mkv")

	assert.NoFileExists(t, filepath.Join(env.workDir, "movie.mkv"))
	assert.NoFileExists(t, env.outputPath())
	assert.Empty(t, env.coord.uploads)
}

func TestEncodeRunner_Process_MissingProfile(t *testing.T) {
	task := &EncodeTask{ID: 1, SourceFile: &TaskFile{Name: "movie.mkv"}}
	runner := NewEncodeRunner(testClient(t.TempDir()), &sequencedProber{}, fakePropedit{}, "", t.TempDir(), testLogger())

	err := runner.Process(context.Background(), &fakeRunner{}, task, "http://coordinator/task")
	require.Error(t, err)
}

func TestEncodeRunner_Process_KeepsSourceOnSuccess(t *testing.T) {
	env := setupEncode(t, crfTask(18))
	env.prober.results[env.outputPath()] = []*ffmpeg.ProbeResult{artifactProbe(500_000_000)}

	require.NoError(t, env.process(t))

	// The staged source survives until the agent removes the whole work
	// directory before acking.
	_, err := os.Stat(filepath.Join(env.workDir, "movie.mkv"))
	require.NoError(t, err)
}
