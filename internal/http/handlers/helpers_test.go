package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/danielgtaylor/huma/v2"
	"github.com/urban-engineer/sved/internal/broker"
	"github.com/urban-engineer/sved/internal/ffmpeg"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

const testBaseURL = "http://coordinator:8080"

type fakePublisher struct {
	envelopes []broker.Envelope
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, envelope broker.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.envelopes = append(f.envelopes, envelope)
	return nil
}

type fakeProber struct {
	results map[string]*ffmpeg.ProbeResult
}

func (f *fakeProber) Probe(_ context.Context, path string) (*ffmpeg.ProbeResult, error) {
	result, ok := f.results[path]
	if !ok {
		return nil, errors.New("no fixture for " + path)
	}
	return result, nil
}

type fakePropedit struct{}

func (fakePropedit) EnsureTrackStatistics(_ context.Context, _ string, _ *ffmpeg.ProbeResult) (bool, error) {
	return false, nil
}

// probeResult builds a minimal 1080p probe fixture.
func probeResult(duration string) *ffmpeg.ProbeResult {
	return &ffmpeg.ProbeResult{
		Format: ffmpeg.ProbeFormat{Duration: duration},
		Streams: []ffmpeg.ProbeStream{
			{
				Index:        0,
				CodecType:    "video",
				Width:        1920,
				Height:       1080,
				RFrameRate:   "24000/1001",
				AvgFrameRate: "24000/1001",
				Tags: map[string]string{
					"NUMBER_OF_FRAMES":        "129486",
					"_STATISTICS_WRITING_APP": "mkvmerge v68.0.0",
				},
			},
		},
	}
}

type handlerEnv struct {
	db          *gorm.DB
	files       repository.FileRepository
	profiles    repository.ProfileRepository
	encodeTasks repository.EncodeTaskRepository
	metricTasks repository.MetricTaskRepository
	pooled      repository.PooledMetricRepository
	publisher   *fakePublisher
	prober      *fakeProber
	inputDir    string
	outputDir   string
}

func setupEnv(t *testing.T) *handlerEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:?_pragma=foreign_keys(ON)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.File{},
		&models.Profile{},
		&models.EncodeTask{},
		&models.MetricTask{},
		&models.Frame{},
		&models.PooledPSNR{},
		&models.PooledMSSSIM{},
		&models.PooledVMAF{},
	))

	return &handlerEnv{
		db:          db,
		files:       repository.NewFileRepository(db),
		profiles:    repository.NewProfileRepository(db),
		encodeTasks: repository.NewEncodeTaskRepository(db),
		metricTasks: repository.NewMetricTaskRepository(db),
		pooled:      repository.NewPooledMetricRepository(db),
		publisher:   &fakePublisher{},
		prober:      &fakeProber{results: map[string]*ffmpeg.ProbeResult{}},
		inputDir:    t.TempDir(),
		outputDir:   t.TempDir(),
	}
}

func (e *handlerEnv) createProfile(t *testing.T) *models.Profile {
	t.Helper()
	profile := &models.Profile{
		Name:        "1080p-h265",
		Codec:       models.CodecH265,
		EncodeType:  models.EncodeTypeCRF,
		EncodeValue: 18,
		Preset:      "slow",
	}
	require.NoError(t, e.profiles.Create(context.Background(), profile))
	return profile
}

// createSourceFile writes real bytes to the input directory and registers a
// matching file record.
func (e *handlerEnv) createSourceFile(t *testing.T, name string, content []byte) *models.File {
	t.Helper()
	path := filepath.Join(e.inputDir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	file := &models.File{
		Name:      name,
		Directory: e.inputDir,
		Size:      int64(len(content)),
		Duration:  5400.5,
		FrameRate: 23.976,
		Frames:    129486,
	}
	require.NoError(t, e.files.Create(context.Background(), file))
	return file
}

// writeFile drops real bytes at an absolute path, creating parents.
func (e *handlerEnv) writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func (e *handlerEnv) createEncodeTask(t *testing.T, source *models.File, profile *models.Profile) *models.EncodeTask {
	t.Helper()
	compressed, err := e.files.GetOrCreate(context.Background(), &models.File{
		Name:      source.Name,
		Directory: filepath.Join(e.outputDir, profile.Name),
	})
	require.NoError(t, err)

	task := &models.EncodeTask{
		SourceFileID:     source.ID,
		CompressedFileID: &compressed.ID,
		ProfileID:        profile.ID,
		EncodeType:       profile.EncodeType,
		EncodeValue:      profile.EncodeValue,
		SecondsRemaining: -1,
	}
	require.NoError(t, e.encodeTasks.Create(context.Background(), task))
	return task
}

func (e *handlerEnv) createMetricTask(t *testing.T, source, compressed *models.File) *models.MetricTask {
	t.Helper()
	task := &models.MetricTask{
		SourceFileID:     source.ID,
		CompressedFileID: compressed.ID,
		VMAF:             true,
		SubsampleRate:    1,
		SecondsRemaining: -1,
	}
	require.NoError(t, e.metricTasks.Create(context.Background(), task))
	return task
}

// requireHumaStatus asserts that a handler error carries the given HTTP
// status.
func requireHumaStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, status, statusErr.GetStatus())
}

func float64Ptr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64       { return &v }
func intPtr(v int) *int             { return &v }
