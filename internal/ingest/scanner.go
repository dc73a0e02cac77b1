// Package ingest scans the media trees, registers Files, and surfaces the
// sources that still need an encode task.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/urban-engineer/sved/internal/ffmpeg"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
	"github.com/urban-engineer/sved/pkg/bytesize"
)

// prober matches ffmpeg.Prober.
type prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// statisticsWriter matches ffmpeg.Propedit.
type statisticsWriter interface {
	EnsureTrackStatistics(ctx context.Context, path string, probe *ffmpeg.ProbeResult) (bool, error)
}

// Scanner registers media files found in the input and output trees.
type Scanner struct {
	files       repository.FileRepository
	encodeTasks repository.EncodeTaskRepository
	prober      prober
	propedit    statisticsWriter
	inputDir    string
	outputDir   string
	maxProbes   int
	logger      *slog.Logger
}

// NewScanner creates a scanner over the configured trees.
func NewScanner(
	files repository.FileRepository,
	encodeTasks repository.EncodeTaskRepository,
	prober prober,
	propedit statisticsWriter,
	inputDir, outputDir string,
	maxProbes int,
	logger *slog.Logger,
) *Scanner {
	if maxProbes < 1 {
		maxProbes = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		files:       files,
		encodeTasks: encodeTasks,
		prober:      prober,
		propedit:    propedit,
		inputDir:    inputDir,
		outputDir:   outputDir,
		maxProbes:   maxProbes,
		logger:      logger,
	}
}

// RegisterFile probes one file and upserts its File row. Files whose size or
// duration probe as zero are treated as still-copying and return nil without
// a record.
func (s *Scanner) RegisterFile(ctx context.Context, path string) (*models.File, error) {
	probe, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	// The audio rules and size budgets read mkvpropedit's statistics tags,
	// so write them before the row is made. A rewrite invalidates the probe.
	modified, err := s.propedit.EnsureTrackStatistics(ctx, path, probe)
	if err != nil {
		return nil, fmt.Errorf("adding statistics tags to %s: %w", path, err)
	}
	if modified {
		probe, err = s.prober.Probe(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("re-probing %s: %w", path, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	duration, err := probe.Duration()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if info.Size() == 0 || duration == 0 {
		s.logger.Debug("skipping in-flight file", slog.String("path", path))
		return nil, nil
	}

	video, err := probe.VideoStream()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	framerate, err := parseAvgFramerate(video)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	frames, err := probe.FrameCount()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	file := &models.File{
		Name:      filepath.Base(path),
		Directory: filepath.Dir(path),
		Size:      info.Size(),
		Duration:  duration,
		FrameRate: math.Round(framerate*1000) / 1000,
		Frames:    frames,
		ProbeInfo: string(probe.RawJSON()),
	}

	registered, err := s.files.GetOrCreate(ctx, file)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("registered file",
		slog.String("name", file.Name),
		slog.String("size", bytesize.Format(file.Size)),
	)
	return registered, nil
}

// ScanDirectory walks a tree for .mkv files and registers each, probing up
// to maxProbes files at once. Files that fail to register are logged and
// skipped; a bad file must not stall the scan.
func (s *Scanner) ScanDirectory(ctx context.Context, dir string) ([]*models.File, error) {
	paths, err := findMKVFiles(dir, true)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("scanning directory",
		slog.String("directory", dir),
		slog.Int("candidates", len(paths)),
	)
	return s.registerAll(ctx, paths)
}

// ScanAll scans the input and output trees.
func (s *Scanner) ScanAll(ctx context.Context) error {
	if _, err := s.ScanDirectory(ctx, s.inputDir); err != nil {
		return err
	}
	if _, err := s.ScanDirectory(ctx, s.outputDir); err != nil {
		return err
	}
	return nil
}

// PendingSources returns the input-root files that have no incomplete encode
// task and no same-named artifact anywhere under the output tree, registered
// and sorted by name.
func (s *Scanner) PendingSources(ctx context.Context) ([]*models.File, error) {
	candidates, err := findMKVFiles(s.inputDir, false)
	if err != nil {
		return nil, err
	}

	taskNames, err := s.encodeTasks.SourceNamesIncomplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing incomplete task sources: %w", err)
	}
	claimed := make(map[string]bool, len(taskNames))
	for _, name := range taskNames {
		claimed[name] = true
	}

	outputs, err := findMKVFiles(s.outputDir, true)
	if err != nil {
		return nil, err
	}
	for _, path := range outputs {
		claimed[filepath.Base(path)] = true
	}

	var pending []string
	for _, path := range candidates {
		if !claimed[filepath.Base(path)] {
			pending = append(pending, path)
		}
	}

	return s.registerAll(ctx, pending)
}

func (s *Scanner) registerAll(ctx context.Context, paths []string) ([]*models.File, error) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.maxProbes)

	results := make([]*models.File, len(paths))
	for i, path := range paths {
		group.Go(func() error {
			file, err := s.RegisterFile(ctx, path)
			if err != nil {
				s.logger.Warn("skipping unreadable file",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = file
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var files []*models.File
	for _, file := range results {
		if file != nil {
			files = append(files, file)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// findMKVFiles lists .mkv files in dir, recursing when walk is set.
func findMKVFiles(dir string, walk bool) ([]string, error) {
	var paths []string

	if walk {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isMKV(d.Name()) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", dir, err)
		}
		return paths, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isMKV(entry.Name()) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

func isMKV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".mkv")
}

func parseAvgFramerate(video *ffmpeg.ProbeStream) (float64, error) {
	if video.AvgFrameRate != "" {
		if rate, err := ffmpeg.ParseFramerate(video.AvgFrameRate); err == nil {
			return rate, nil
		}
	}
	return video.Framerate()
}
