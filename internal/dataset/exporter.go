package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"podnotes/internal/domain"
)

// Source supplies the episodes to export.
type Source interface {
	ListEpisodes(ctx context.Context, withTopicsOnly bool) ([]domain.Episode, error)
	EpisodeByNumber(ctx context.Context, number int) (domain.Episode, error)
	LoadGraph(ctx context.Context, ep domain.Episode) (domain.EpisodeGraph, error)
}

type ExportOptions struct {
	// All includes episodes without topics.
	All bool
	// Episode restricts the export to one episode number when > 0.
	Episode   int
	Force     bool
	Prefix    string
	Extension string
}

type ExportReport struct {
	Written     []string
	Overwritten []string
	Skipped     []string
}

type Exporter struct {
	Source Source
	Logger *slog.Logger
}

// FileName returns "{prefix}-{number}.{ext}" with the defaults applied.
func FileName(prefix string, number int, ext string) string {
	if prefix == "" {
		prefix = "episode"
	}
	if ext == "" {
		ext = "yml"
	}
	return fmt.Sprintf("%s-%d.%s", prefix, number, ext)
}

// Run writes one dataset file per episode into dir. Existing files are
// skipped unless opts.Force is set.
func (ex Exporter) Run(ctx context.Context, dir string, opts ExportOptions) (ExportReport, error) {
	logger := ex.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportReport{}, err
	}
	var episodes []domain.Episode
	if opts.Episode > 0 {
		ep, err := ex.Source.EpisodeByNumber(ctx, opts.Episode)
		if err != nil {
			return ExportReport{}, fmt.Errorf("episode %d: %w", opts.Episode, err)
		}
		episodes = []domain.Episode{ep}
	} else {
		var err error
		episodes, err = ex.Source.ListEpisodes(ctx, !opts.All)
		if err != nil {
			return ExportReport{}, err
		}
	}

	var report ExportReport
	for _, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if ep.Number == nil {
			logger.Warn("episode has no number, not exported", "guid", ep.GUID)
			continue
		}
		path := filepath.Join(dir, FileName(opts.Prefix, *ep.Number, opts.Extension))
		_, statErr := os.Stat(path)
		exists := statErr == nil
		if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
			return report, statErr
		}
		if exists && !opts.Force {
			logger.Info("dataset exists, skipped", "file", filepath.Base(path))
			report.Skipped = append(report.Skipped, path)
			continue
		}
		g, err := ex.Source.LoadGraph(ctx, ep)
		if err != nil {
			return report, fmt.Errorf("load episode %s: %w", ep.GUID, err)
		}
		data, err := Marshal(EncodeAttributed(g))
		if err != nil {
			return report, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return report, err
		}
		if exists {
			logger.Info("dataset overwritten", "file", filepath.Base(path))
			report.Overwritten = append(report.Overwritten, path)
		} else {
			logger.Debug("dataset exported", "file", filepath.Base(path))
			report.Written = append(report.Written, path)
		}
	}
	return report, nil
}
