package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TxStore is a Store bound to a single transaction.
type TxStore interface {
	Store
	Commit() error
	Rollback() error
}

type ImportOptions struct {
	// SkipErrors keeps going after a dataset fails instead of halting.
	SkipErrors bool
}

type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", filepath.Base(e.Path), e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

type ImportReport struct {
	Imported []string
	Failed   []FileError
	// Halted is true when a failure stopped the batch early.
	Halted bool
}

type Importer struct {
	Codec  Codec
	Begin  func(ctx context.Context) (TxStore, error)
	Logger *slog.Logger
}

func (im Importer) logger() *slog.Logger {
	if im.Logger != nil {
		return im.Logger
	}
	return slog.Default()
}

// Files lists the datasets at location: the file itself, or the .yml and
// .yaml files directly inside a directory, in name order.
func Files(location string) ([]string, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{location}, nil
	}
	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yml", ".yaml":
			files = append(files, filepath.Join(location, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Run imports every dataset at location, one transaction per file. Without
// SkipErrors the first failure stops the batch and is returned.
func (im Importer) Run(ctx context.Context, location string, opts ImportOptions) (ImportReport, error) {
	if im.Begin == nil {
		return ImportReport{}, errors.New("importer has no store")
	}
	files, err := Files(location)
	if err != nil {
		return ImportReport{}, fmt.Errorf("list datasets: %w", err)
	}
	cache := NewLookupCache()
	var report ImportReport
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		im.logger().Debug("importing dataset", "file", path)
		if err := im.importFile(ctx, path, cache); err != nil {
			fe := FileError{Path: path, Err: err}
			report.Failed = append(report.Failed, fe)
			im.logger().Error("dataset import failed", "file", filepath.Base(path), "err", err)
			if !opts.SkipErrors {
				report.Halted = true
				return report, fe
			}
			continue
		}
		report.Imported = append(report.Imported, path)
	}
	return report, nil
}

func (im Importer) importFile(ctx context.Context, path string, cache *LookupCache) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ds, err := Parse(data)
	if err != nil {
		return err
	}
	store, err := im.Begin(ctx)
	if err != nil {
		return err
	}
	defer store.Rollback()
	if _, err := im.Codec.Apply(ctx, store, ds, cache); err != nil {
		return err
	}
	return store.Commit()
}
