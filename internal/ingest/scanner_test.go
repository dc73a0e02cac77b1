package ingest

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

	"github.com/urban-engineer/sved/internal/ffmpeg"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

type fakeProber struct {
	results map[string]*ffmpeg.ProbeResult
	errs    map[string]error
	calls   map[string]int
}

func (f *fakeProber) Probe(_ context.Context, path string) (*ffmpeg.ProbeResult, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[path]++
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	result, ok := f.results[path]
	if !ok {
		return nil, errors.New("no fixture for " + path)
	}
	return result, nil
}

type fakePropedit struct {
	rewrote []string
}

func (f *fakePropedit) EnsureTrackStatistics(_ context.Context, path string, probe *ffmpeg.ProbeResult) (bool, error) {
	if probe.HasStatisticsTags() {
		return false, nil
	}
	f.rewrote = append(f.rewrote, path)
	return true, nil
}

func probeResult(duration string, withStats bool) *ffmpeg.ProbeResult {
	tags := map[string]string{
		"NUMBER_OF_FRAMES": "129486",
	}
	if withStats {
		tags["_STATISTICS_WRITING_APP"] = "mkvpropedit v68.0.0"
	}
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
				Tags:         tags,
			},
		},
	}
}

type scannerEnv struct {
	scanner     *Scanner
	prober      *fakeProber
	propedit    *fakePropedit
	files       repository.FileRepository
	encodeTasks repository.EncodeTaskRepository
	db          *gorm.DB
	inputDir    string
	outputDir   string
}

func setupScanner(t *testing.T) *scannerEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:?_pragma=foreign_keys(ON)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.File{}, &models.Profile{}, &models.EncodeTask{}))

	env := &scannerEnv{
		prober:      &fakeProber{results: map[string]*ffmpeg.ProbeResult{}, errs: map[string]error{}},
		propedit:    &fakePropedit{},
		files:       repository.NewFileRepository(db),
		encodeTasks: repository.NewEncodeTaskRepository(db),
		db:          db,
		inputDir:    t.TempDir(),
		outputDir:   t.TempDir(),
	}
	env.scanner = NewScanner(env.files, env.encodeTasks, env.prober, env.propedit, env.inputDir, env.outputDir, 4, nil)
	return env
}

// addFile drops a real file on disk and a probe fixture for it.
func (e *scannerEnv) addFile(t *testing.T, dir, name string, result *ffmpeg.ProbeResult) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("matroska bytes"), 0o644))
	e.prober.results[path] = result
	return path
}

func TestScanner_RegisterFile(t *testing.T) {
	env := setupScanner(t)
	path := env.addFile(t, env.inputDir, "movie.mkv", probeResult("5400.123", true))

	file, err := env.scanner.RegisterFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, "movie.mkv", file.Name)
	assert.Equal(t, env.inputDir, file.Directory)
	assert.Equal(t, int64(14), file.Size)
	assert.InDelta(t, 5400.123, file.Duration, 0.001)
	assert.InDelta(t, 23.976, file.FrameRate, 0.0001)
	assert.Equal(t, int64(129486), file.Frames)

	// Statistics already present, no rewrite, single probe.
	assert.Empty(t, env.propedit.rewrote)
	assert.Equal(t, 1, env.prober.calls[path])
}

func TestScanner_RegisterFile_WritesStatistics(t *testing.T) {
	env := setupScanner(t)
	path := env.addFile(t, env.inputDir, "raw.mkv", probeResult("100", false))

	file, err := env.scanner.RegisterFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, []string{path}, env.propedit.rewrote)
	// The rewrite invalidates the first probe.
	assert.Equal(t, 2, env.prober.calls[path])
}

func TestScanner_RegisterFile_SkipsInFlight(t *testing.T) {
	env := setupScanner(t)
	path := env.addFile(t, env.inputDir, "copying.mkv", probeResult("0", true))

	file, err := env.scanner.RegisterFile(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, file)

	stored, err := env.files.GetByNameAndDirectory(context.Background(), "copying.mkv", env.inputDir)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestScanner_RegisterFile_Idempotent(t *testing.T) {
	env := setupScanner(t)
	path := env.addFile(t, env.inputDir, "movie.mkv", probeResult("5400.123", true))
	ctx := context.Background()

	first, err := env.scanner.RegisterFile(ctx, path)
	require.NoError(t, err)
	second, err := env.scanner.RegisterFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, env.db.Model(&models.File{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestScanner_ScanDirectory(t *testing.T) {
	env := setupScanner(t)
	env.addFile(t, env.inputDir, "b.mkv", probeResult("100", true))
	env.addFile(t, env.inputDir, "a.mkv", probeResult("100", true))
	env.addFile(t, env.inputDir, filepath.Join("nested", "c.mkv"), probeResult("100", true))

	// Non-mkv files are never probed.
	require.NoError(t, os.WriteFile(filepath.Join(env.inputDir, "notes.txt"), []byte("x"), 0o644))

	files, err := env.scanner.ScanDirectory(context.Background(), env.inputDir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.mkv", files[0].Name)
	assert.Equal(t, "b.mkv", files[1].Name)
	assert.Equal(t, "c.mkv", files[2].Name)
}

func TestScanner_ScanDirectory_SkipsUnreadable(t *testing.T) {
	env := setupScanner(t)
	env.addFile(t, env.inputDir, "good.mkv", probeResult("100", true))
	bad := env.addFile(t, env.inputDir, "bad.mkv", probeResult("100", true))
	env.prober.errs[bad] = errors.New("not a video")

	files, err := env.scanner.ScanDirectory(context.Background(), env.inputDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "good.mkv", files[0].Name)
}

func TestScanner_PendingSources(t *testing.T) {
	env := setupScanner(t)
	ctx := context.Background()

	env.addFile(t, env.inputDir, "queued.mkv", probeResult("100", true))
	env.addFile(t, env.inputDir, "encoded.mkv", probeResult("100", true))
	env.addFile(t, env.inputDir, "fresh.mkv", probeResult("100", true))

	// queued.mkv is owned by an incomplete task.
	source := &models.File{Name: "queued.mkv", Directory: env.inputDir, Size: 1, Duration: 100}
	require.NoError(t, env.db.Create(source).Error)
	profile := &models.Profile{Name: "archive", Codec: models.CodecH264, EncodeType: models.EncodeTypeCRF, EncodeValue: 18, Preset: "slow"}
	require.NoError(t, env.db.Create(profile).Error)
	task := &models.EncodeTask{SourceFileID: source.ID, ProfileID: profile.ID, EncodeType: profile.EncodeType, EncodeValue: profile.EncodeValue, Status: models.StatusQueued}
	require.NoError(t, env.db.Create(task).Error)

	// encoded.mkv already has an artifact somewhere under the output tree.
	env.addFile(t, env.outputDir, filepath.Join("archive", "encoded.mkv"), probeResult("100", true))

	pending, err := env.scanner.PendingSources(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "fresh.mkv", pending[0].Name)
}

func TestScanner_PendingSources_CompleteTaskDoesNotBlock(t *testing.T) {
	env := setupScanner(t)
	ctx := context.Background()

	env.addFile(t, env.inputDir, "done.mkv", probeResult("100", true))

	source := &models.File{Name: "done.mkv", Directory: env.inputDir, Size: 1, Duration: 100}
	require.NoError(t, env.db.Create(source).Error)
	profile := &models.Profile{Name: "archive", Codec: models.CodecH264, EncodeType: models.EncodeTypeCRF, EncodeValue: 18, Preset: "slow"}
	require.NoError(t, env.db.Create(profile).Error)
	task := &models.EncodeTask{SourceFileID: source.ID, ProfileID: profile.ID, EncodeType: profile.EncodeType, EncodeValue: profile.EncodeValue, Status: models.StatusComplete}
	require.NoError(t, env.db.Create(task).Error)

	pending, err := env.scanner.PendingSources(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "done.mkv", pending[0].Name)
}
