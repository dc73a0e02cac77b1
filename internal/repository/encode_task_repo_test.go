package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urban-engineer/sved/internal/models"
)

func TestEncodeTaskRepo_GetByID_Preloads(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	seeded := seedEncodeTask(t, db, "movie.mkv")

	task, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NotNil(t, task.SourceFile)
	require.NotNil(t, task.Profile)
	assert.Equal(t, "movie.mkv", task.SourceFile.Name)
	assert.Equal(t, models.EncodeTypeCRF, task.EncodeType)
	assert.Nil(t, task.CompressedFile)
}

func TestEncodeTaskRepo_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)

	task, err := repo.GetByID(context.Background(), 12345)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestEncodeTaskRepo_GetIncomplete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	running := seedEncodeTask(t, db, "running.mkv")
	done := seedEncodeTask(t, db, "done.mkv")
	require.NoError(t, repo.SetStatus(ctx, done.ID, models.StatusComplete))

	tasks, err := repo.GetIncomplete(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, running.ID, tasks[0].ID)
}

func TestEncodeTaskRepo_SourceNamesIncomplete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	seedEncodeTask(t, db, "pending.mkv")
	done := seedEncodeTask(t, db, "finished.mkv")
	require.NoError(t, repo.SetStatus(ctx, done.ID, models.StatusComplete))

	names, err := repo.SourceNamesIncomplete(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending.mkv"}, names)
}

func TestEncodeTaskRepo_UpdateProgress(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	seeded := seedEncodeTask(t, db, "movie.mkv")

	fps := 42.5
	eta := int64(900)
	status := models.StatusInProgress
	abr := models.EncodeTypeABR
	bitrate := 4821

	err := repo.UpdateProgress(ctx, seeded.ID, ProgressUpdate{
		Progress:    37.5,
		FPS:         &fps,
		ETA:         &eta,
		EncodeType:  &abr,
		EncodeValue: &bitrate,
		Worker:      "worker-1",
		Status:      &status,
	})
	require.NoError(t, err)

	task, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.InDelta(t, 37.5, task.Progress, 0.001)
	assert.InDelta(t, 42.5, task.EncodeFramerate, 0.001)
	assert.Equal(t, int64(900), task.SecondsRemaining)
	assert.Equal(t, models.EncodeTypeABR, task.EncodeType)
	assert.Equal(t, 4821, task.EncodeValue)
	assert.Equal(t, "worker-1", task.Worker)
	assert.Equal(t, models.StatusInProgress, task.Status)
}

func TestEncodeTaskRepo_UpdateProgress_PartialFields(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	seeded := seedEncodeTask(t, db, "movie.mkv")

	// Only progress: everything else stays untouched.
	err := repo.UpdateProgress(ctx, seeded.ID, ProgressUpdate{Progress: 10})
	require.NoError(t, err)

	task, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10, task.Progress, 0.001)
	assert.Equal(t, models.EncodeTypeCRF, task.EncodeType)
	assert.Equal(t, 18, task.EncodeValue)
	assert.Empty(t, task.Worker)
}

func TestEncodeTaskRepo_UpdateProgress_NonMonotone(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	seeded := seedEncodeTask(t, db, "movie.mkv")

	require.NoError(t, repo.UpdateProgress(ctx, seeded.ID, ProgressUpdate{Progress: 80}))
	// A late lower value overwrites; monotonicity is not enforced.
	require.NoError(t, repo.UpdateProgress(ctx, seeded.ID, ProgressUpdate{Progress: 12}))

	task, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.InDelta(t, 12, task.Progress, 0.001)
}

func TestEncodeTaskRepo_MarkDownloading(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	seeded := seedEncodeTask(t, db, "movie.mkv")

	// Simulate leftovers from a crashed attempt.
	fps := 30.0
	require.NoError(t, repo.UpdateProgress(ctx, seeded.ID, ProgressUpdate{Progress: 55, FPS: &fps, Worker: "worker-dead"}))

	require.NoError(t, repo.MarkDownloading(ctx, seeded.ID, "worker-2"))

	task, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, task.Status)
	assert.Equal(t, "worker-2", task.Worker)
	assert.Zero(t, task.Progress)
	assert.Zero(t, task.EncodeFramerate)
	assert.Zero(t, task.SecondsRemaining)
	require.NotNil(t, task.EncodeStartDatetime)
}

func TestEncodeTaskRepo_Finalize(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	seeded := seedEncodeTask(t, db, "movie.mkv")
	compressed := seedFile(t, db, "movie.mkv", "/srv/media/output/archive")

	require.NoError(t, repo.Finalize(ctx, seeded.ID, compressed.ID))

	task, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, task.Status)
	require.NotNil(t, task.CompressedFile)
	assert.Equal(t, compressed.ID, task.CompressedFile.ID)
	assert.InDelta(t, 100, task.Progress, 0.001)
	require.NotNil(t, task.EncodeEndDatetime)

	// Re-finalizing (artifact re-upload) must be safe.
	require.NoError(t, repo.Finalize(ctx, seeded.ID, compressed.ID))
}

func TestEncodeTaskRepo_MarkUploading(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEncodeTaskRepository(db)
	ctx := context.Background()

	seeded := seedEncodeTask(t, db, "movie.mkv")

	require.NoError(t, repo.MarkUploading(ctx, seeded.ID, "worker-3"))

	task, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploading, task.Status)
	assert.Equal(t, "worker-3", task.Worker)
}
