// Package publish pushes local files and page texts to a wiki site.
package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"wikitool/internal/mediawiki"
	"wikitool/internal/observability"
	"wikitool/internal/scheduler"
)

// Site is the part of the wiki client publishing needs.
type Site interface {
	FileExists(ctx context.Context, name string) (bool, error)
	PageExists(ctx context.Context, title string) (bool, error)
	Upload(ctx context.Context, filename string, r io.Reader, description string, ignoreWarnings bool) (mediawiki.Result, error)
	Edit(ctx context.Context, title, text, summary string) (mediawiki.Result, error)
}

// UploadOptions controls an upload batch.
type UploadOptions struct {
	Description    string
	Rewrite        bool
	IgnoreWarnings bool
}

// EditOptions controls an edit batch.
type EditOptions struct {
	Summary  string
	Encoding string
	Rewrite  bool
	// UploadFiles uploads <page>_copy_pic/ before saving each page.
	UploadFiles bool
	Files       UploadOptions
}

// Stats summarizes a batch. Files counts the pictures uploaded along with
// edited pages.
type Stats struct {
	Done     int
	Files    int
	Skipped  int
	Failures int
}

// Publisher uploads files and saves pages on one site.
type Publisher struct {
	site    Site
	log     *slog.Logger
	metrics *observability.Metrics
}

// New creates a Publisher. metrics may be nil.
func New(site Site, log *slog.Logger, metrics *observability.Metrics) *Publisher {
	if metrics == nil {
		metrics = observability.New()
	}
	return &Publisher{site: site, log: log, metrics: metrics}
}

// Run is one publish session. Each local file is handled at most once per
// Run, across uploads and edits.
type Run struct {
	p        *Publisher
	uploaded map[string]struct{}
	edited   map[string]struct{}
}

// NewRun starts a session.
func (p *Publisher) NewRun() *Run {
	return &Run{p: p, uploaded: make(map[string]struct{}), edited: make(map[string]struct{})}
}

// Upload sends the files named by lines from dir. A failing file is logged
// and counted; the error is non-nil only when ctx was cancelled.
func (r *Run) Upload(ctx context.Context, dir string, lines []string, opts UploadOptions) (Stats, error) {
	var stats Stats
	for _, line := range lines {
		e, ok := ParseUploadLine(line, opts.Description)
		if !ok {
			continue
		}
		if err := scheduler.Checkpoint(ctx); err != nil {
			return stats, err
		}
		path := filepath.Join(dir, e.File)
		if _, done := r.uploaded[path]; done {
			r.p.log.Info("already processed", "file", e.File)
			stats.Skipped++
			continue
		}
		r.uploaded[path] = struct{}{}

		r.upload(scheduler.Detach(ctx), path, e, opts, &stats)
	}
	return stats, nil
}

func (r *Run) upload(ctx context.Context, path string, e UploadEntry, opts UploadOptions, stats *Stats) {
	exists, err := r.p.site.FileExists(ctx, e.Name)
	if err != nil {
		r.fail(stats, "check file", e.Name, err)
		return
	}
	if exists && !opts.Rewrite {
		r.p.log.Info("file already on site", "name", e.Name)
		r.p.metrics.NodesSkipped.Inc()
		stats.Skipped++
		return
	}

	fd, err := os.Open(path) //nolint:gosec // path built from the input dir
	if err != nil {
		r.fail(stats, "open file", e.File, err)
		return
	}
	defer func() { _ = fd.Close() }()

	res, err := r.p.site.Upload(ctx, e.Name, fd, e.Description, opts.IgnoreWarnings)
	if err != nil {
		r.fail(stats, "upload file", e.Name, err)
		return
	}
	if res.Warnings != "" {
		r.p.log.Warn("upload warnings", "name", e.Name, "warnings", res.Warnings)
	}
	if !res.OK() {
		r.fail(stats, "upload file", e.Name, fmt.Errorf("result %q", res.Status))
		return
	}
	r.p.log.Info("file uploaded", "file", e.File, "name", e.Name)
	r.p.metrics.FilesUploaded.Inc()
	stats.Done++
}

// Edit saves the page texts named by lines from dir.
func (r *Run) Edit(ctx context.Context, dir string, lines []string, opts EditOptions) (Stats, error) {
	var stats Stats
	for _, line := range lines {
		e, ok := ParseEditLine(line, opts.Summary)
		if !ok {
			continue
		}
		if err := scheduler.Checkpoint(ctx); err != nil {
			return stats, err
		}
		path := filepath.Join(dir, e.File)
		if _, done := r.edited[path]; done {
			r.p.log.Info("already processed", "file", e.File)
			stats.Skipped++
			continue
		}
		r.edited[path] = struct{}{}

		exists, err := r.p.site.PageExists(scheduler.Detach(ctx), e.Title)
		if err != nil {
			r.fail(&stats, "check page", e.Title, err)
			continue
		}
		if exists && !opts.Rewrite {
			r.p.log.Info("page already on site", "title", e.Title)
			r.p.metrics.NodesSkipped.Inc()
			stats.Skipped++
			continue
		}

		uploadFiles := opts.UploadFiles
		if e.UploadFiles != nil {
			uploadFiles = *e.UploadFiles
		}
		if uploadFiles {
			files, err := r.uploadPictures(ctx, filepath.Join(dir, trimExt(e.File)+"_copy_pic"), opts.Files)
			stats.Files += files.Done
			stats.Failures += files.Failures
			if err != nil {
				return stats, err
			}
		}

		text, err := ReadText(path, opts.Encoding)
		if err != nil {
			r.fail(&stats, "read page", e.File, err)
			continue
		}
		res, err := r.p.site.Edit(scheduler.Detach(ctx), e.Title, text, e.Summary)
		if err != nil {
			r.fail(&stats, "save page", e.Title, err)
			continue
		}
		if !res.OK() {
			r.fail(&stats, "save page", e.Title, fmt.Errorf("result %q", res.Status))
			continue
		}
		r.p.log.Info("page saved", "file", e.File, "title", e.Title)
		r.p.metrics.PagesEdited.Inc()
		stats.Done++
	}
	return stats, nil
}

func (r *Run) uploadPictures(ctx context.Context, dir string, opts UploadOptions) (Stats, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Stats{}, nil
	}
	lines, err := Select(dir, "", "", nil)
	if err != nil {
		var stats Stats
		r.fail(&stats, "list files", dir, err)
		return stats, nil
	}
	return r.Upload(ctx, dir, lines, opts)
}

func (r *Run) fail(stats *Stats, op, name string, err error) {
	r.p.log.Error(op, "name", name, "error", err)
	r.p.metrics.NodeFailures.Inc()
	stats.Failures++
}
