// Package report archives pipeline run reports.
//
// Every run is written as one YAML file to a local directory that keeps
// the newest reports only. Reports can also be uploaded to an S3 bucket.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cameronsjo/rigger/internal/fileutil"
	"github.com/cameronsjo/rigger/internal/pipeline"
)

const (
	// FilePrefix is the prefix of report file names.
	FilePrefix = "run-"
	// DateFormat is the timestamp format used in report names.
	DateFormat = "20060102-150405"
	// DefaultKeep is the number of reports an Archive retains.
	DefaultKeep = 20
)

// Sink stores a finished run report and returns where it went.
type Sink interface {
	Store(ctx context.Context, r *pipeline.Report) (string, error)
}

// Publish stores r in every sink. A failing sink does not stop the others.
func Publish(ctx context.Context, r *pipeline.Report, sinks ...Sink) ([]string, error) {
	var locations []string
	var errs []error
	for _, s := range sinks {
		loc, err := s.Store(ctx, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		locations = append(locations, loc)
	}
	return locations, errors.Join(errs...)
}

// Name returns the file name of r: start time, then the run ID, so that
// names sort by age.
func Name(r *pipeline.Report) string {
	id := r.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return FilePrefix + r.Started.UTC().Format(DateFormat) + "-" + id + ".yaml"
}

// Encode writes r as YAML.
func Encode(w io.Writer, r *pipeline.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// Info holds metadata about an archived report.
type Info struct {
	Name    string
	Path    string
	Created time.Time
}

// Archive keeps reports in a local directory.
type Archive struct {
	dir  string
	keep int
}

// NewArchive creates an archive in dir retaining keep reports. Zero keep
// means DefaultKeep.
func NewArchive(dir string, keep int) *Archive {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Archive{dir: dir, keep: keep}
}

// Store writes r and prunes old reports. Pruning failures are returned
// but the report is kept.
func (a *Archive) Store(_ context.Context, r *pipeline.Report) (string, error) {
	path := filepath.Join(a.dir, Name(r))
	if err := fileutil.Write(path, 0644, func(w io.Writer) error {
		return Encode(w, r)
	}); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	if err := a.Cleanup(); err != nil {
		return path, fmt.Errorf("prune reports: %w", err)
	}
	return path, nil
}

// List returns archived reports sorted by date (newest first).
func (a *Archive) List() ([]Info, error) {
	entries, err := os.ReadDir(a.dir)
	if os.IsNotExist(err) {
		return nil, nil // No archive directory means no reports
	}
	if err != nil {
		return nil, fmt.Errorf("read report directory: %w", err)
	}

	var reports []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, ".yaml") {
			continue
		}

		created := time.Time{}
		stamp := strings.TrimPrefix(name, FilePrefix)
		if len(stamp) >= len(DateFormat) {
			created, _ = time.Parse(DateFormat, stamp[:len(DateFormat)])
		}
		if created.IsZero() {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			created = info.ModTime()
		}

		reports = append(reports, Info{Name: name, Path: filepath.Join(a.dir, name), Created: created})
	}

	// Sort by date, newest first
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Created.Equal(reports[j].Created) {
			return reports[i].Name > reports[j].Name
		}
		return reports[i].Created.After(reports[j].Created)
	})

	return reports, nil
}

// Cleanup removes reports beyond the retention limit.
// Continues deleting even if individual removals fail, returning all errors.
func (a *Archive) Cleanup() error {
	reports, err := a.List()
	if err != nil {
		return err
	}
	if len(reports) <= a.keep {
		return nil
	}

	var errs []error
	for _, r := range reports[a.keep:] {
		if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Read loads an archived report.
func Read(path string) (*pipeline.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r pipeline.Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}
