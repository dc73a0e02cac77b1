package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/internal/broker"
	"github.com/urban-engineer/sved/internal/models"
)

func encodeFileRouter(env *handlerEnv, autoDelete bool) *chi.Mux {
	handler := NewEncodeFileHandler(
		env.encodeTasks, env.files, env.publisher, env.prober, fakePropedit{},
		env.outputDir, testBaseURL, autoDelete, nil,
	)
	router := chi.NewRouter()
	handler.Register(router)
	return router
}

func TestEncodeFileHandler_Download(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	profile := env.createProfile(t)
	content := []byte("matroska source bytes")
	source := env.createSourceFile(t, "movie.mkv", content)
	task := env.createEncodeTask(t, source, profile)

	router := encodeFileRouter(env, false)

	req := httptest.NewRequest(http.MethodGet, encodeFileURL("", task.ID), nil)
	req.Header.Set("Worker", "worker-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, strconv.Itoa(len(content)), rec.Header().Get("Content-Length"))

	updated, err := env.encodeTasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, updated.Status)
	assert.Equal(t, "worker-1", updated.Worker)
	assert.NotNil(t, updated.EncodeStartDatetime)
}

func TestEncodeFileHandler_Download_NoWorkerHeader(t *testing.T) {
	env := setupEnv(t)

	profile := env.createProfile(t)
	source := env.createSourceFile(t, "movie.mkv", []byte("bytes"))
	task := env.createEncodeTask(t, source, profile)

	router := encodeFileRouter(env, false)

	req := httptest.NewRequest(http.MethodGet, encodeFileURL("", task.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// A plain fetch (an operator grabbing the file) must not move the
	// task's state machine.
	updated, err := env.encodeTasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, updated.Status)
}

func TestEncodeFileHandler_Download_UnknownTask(t *testing.T) {
	env := setupEnv(t)
	router := encodeFileRouter(env, false)

	req := httptest.NewRequest(http.MethodGet, encodeFileURL("", 99), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEncodeFileHandler_Upload(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	profile := env.createProfile(t)
	source := env.createSourceFile(t, "movie.mkv", []byte("source bytes"))
	task := env.createEncodeTask(t, source, profile)

	artifact := []byte("compressed matroska bytes")
	destPath := filepath.Join(env.outputDir, profile.Name, "movie.mkv")
	env.prober.results[destPath] = probeResult("5400.500000")

	router := encodeFileRouter(env, true)

	req := httptest.NewRequest(http.MethodPost, encodeFileURL("", task.ID), bytes.NewReader(artifact))
	req.Header.Set("size", strconv.Itoa(len(artifact)))
	req.Header.Set("Worker", "worker-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	written, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, artifact, written)

	updated, err := env.encodeTasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, updated.Status)
	assert.Equal(t, float64(100), updated.Progress)
	assert.NotNil(t, updated.EncodeEndDatetime)

	require.NotNil(t, updated.CompressedFile)
	assert.Equal(t, int64(len(artifact)), updated.CompressedFile.Size)
	assert.Equal(t, 5400.5, updated.CompressedFile.Duration)
	assert.Equal(t, 23.976, updated.CompressedFile.FrameRate)
	assert.Equal(t, int64(129486), updated.CompressedFile.Frames)

	// auto_delete was on, so the source is gone.
	_, err = os.Stat(source.Path())
	assert.True(t, os.IsNotExist(err))

	assert.Empty(t, env.publisher.envelopes)
}

func TestEncodeFileHandler_Upload_SizeMismatchRequeues(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	profile := env.createProfile(t)
	source := env.createSourceFile(t, "movie.mkv", []byte("source bytes"))
	task := env.createEncodeTask(t, source, profile)

	artifact := []byte("truncated upload")

	router := encodeFileRouter(env, true)

	req := httptest.NewRequest(http.MethodPost, encodeFileURL("", task.ID), bytes.NewReader(artifact))
	req.Header.Set("size", strconv.Itoa(len(artifact)+100))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// The worker treats the upload as done; the requeue is the
	// coordinator's problem.
	require.Equal(t, http.StatusOK, rec.Code)

	// Artifact quarantined, not left in the good tree.
	_, err := os.Stat(filepath.Join(env.outputDir, profile.Name, "movie.mkv"))
	assert.True(t, os.IsNotExist(err))
	quarantined, err := os.ReadFile(filepath.Join(env.outputDir, "invalid", profile.Name, "movie.mkv"))
	require.NoError(t, err)
	assert.Equal(t, artifact, quarantined)

	require.Len(t, env.publisher.envelopes, 1)
	assert.Equal(t, broker.TaskTypeEncode, env.publisher.envelopes[0].Type)
	assert.Equal(t, task.ID, env.publisher.envelopes[0].ID)
	assert.Equal(t, encodeTaskURL(testBaseURL, task.ID), env.publisher.envelopes[0].URL)

	updated, err := env.encodeTasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, updated.Status)

	// The mismatch path must not delete the source even with auto_delete.
	_, err = os.Stat(source.Path())
	assert.NoError(t, err)
}

func TestEncodeFileHandler_Upload_MissingSizeHeader(t *testing.T) {
	env := setupEnv(t)

	profile := env.createProfile(t)
	task := env.createEncodeTask(t, env.createSourceFile(t, "movie.mkv", []byte("x")), profile)

	router := encodeFileRouter(env, false)

	req := httptest.NewRequest(http.MethodPost, encodeFileURL("", task.ID), bytes.NewReader([]byte("data")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
