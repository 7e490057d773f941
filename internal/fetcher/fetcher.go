// Package fetcher downloads wiki pages together with the files, linked pages
// and templates they refer to.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"wikitool/internal/model"
	"wikitool/internal/observability"
	"wikitool/internal/scheduler"
)

// DefaultMaxDepth bounds link following when no depth is given.
const DefaultMaxDepth = 3

// Site is the part of the wiki client the fetcher needs.
type Site interface {
	Node(ctx context.Context, title string, expandTemplates bool) (*model.Node, error)
	DownloadFile(ctx context.Context, name string, w io.Writer) error
}

// Options controls what a fetch retrieves besides the page text.
type Options struct {
	// SaveAs overrides the file name of the starting page only.
	SaveAs          string
	DownloadFiles   bool
	FollowLinks     bool
	MaxDepth        int
	ExpandTemplates bool
	FollowTemplates bool
}

// templateOptions is used for every template reached from a page. Templates
// bring their own files and templates but never their links.
var templateOptions = Options{
	DownloadFiles:   true,
	FollowLinks:     false,
	ExpandTemplates: false,
	FollowTemplates: true,
}

// Stats summarizes a fetch.
type Stats struct {
	Pages    int
	Files    int
	Missing  int
	Skipped  int
	Failures int
}

func (s *Stats) add(o Stats) {
	s.Pages += o.Pages
	s.Files += o.Files
	s.Missing += o.Missing
	s.Skipped += o.Skipped
	s.Failures += o.Failures
}

// Fetcher writes pages of a site to disk.
type Fetcher struct {
	site    Site
	log     *slog.Logger
	metrics *observability.Metrics
}

// New creates a Fetcher. metrics may be nil.
func New(site Site, log *slog.Logger, metrics *observability.Metrics) *Fetcher {
	if metrics == nil {
		metrics = observability.New()
	}
	return &Fetcher{site: site, log: log, metrics: metrics}
}

// Run is one fetch session. Every page, template and file name it processes
// is remembered, so nothing is fetched twice within the same Run.
type Run struct {
	f       *Fetcher
	visited map[string]struct{}
	total   Stats
}

// NewRun starts a session with an empty visited set.
func (f *Fetcher) NewRun() *Run {
	return &Run{f: f, visited: make(map[string]struct{})}
}

// Visited reports whether name was already processed in this run.
func (r *Run) Visited(name string) bool {
	_, ok := r.visited[name]
	return ok
}

// Total returns the accumulated statistics of every Fetch in this run.
func (r *Run) Total() Stats {
	return r.total
}

type task struct {
	title  string
	saveAs string
	depth  int
	opts   Options
}

// Fetch retrieves title into outDir and then whatever opts asks to follow.
// Failures of individual pages or files are logged and counted; the
// traversal goes on with the next one. The returned error is non-nil only
// when outDir is unusable or ctx was cancelled (scheduler.ErrStopped).
func (r *Run) Fetch(ctx context.Context, title, outDir string, opts Options) (Stats, error) {
	var stats Stats
	defer func() { r.total.add(stats) }()

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return stats, fmt.Errorf("create output dir: %w", err)
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}

	stack := []task{{title: title, saveAs: opts.SaveAs, opts: opts}}
	for len(stack) > 0 {
		if err := scheduler.Checkpoint(ctx); err != nil {
			return stats, err
		}

		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if r.Visited(t.title) {
			r.f.log.Info("already processed", "title", t.title)
			r.f.metrics.NodesSkipped.Inc()
			stats.Skipped++
			continue
		}
		r.visited[t.title] = struct{}{}

		node, err := r.f.site.Node(scheduler.Detach(ctx), t.title, t.opts.ExpandTemplates)
		if err != nil {
			r.fail(&stats, "get page", t.title, err)
			continue
		}
		if !node.Exists {
			r.f.log.Warn("page does not exist", "title", t.title)
			stats.Missing++
			continue
		}

		name := t.saveAs
		if name == "" {
			name = model.EncodeTitle(t.title) + ".txt"
		}
		if err := writePage(filepath.Join(outDir, name), node.Content); err != nil {
			r.fail(&stats, "write page", t.title, err)
			continue
		}
		r.f.log.Info("page saved", "title", t.title, "file", name)
		r.f.metrics.PagesFetched.Inc()
		stats.Pages++

		if t.opts.DownloadFiles {
			dir := filepath.Join(outDir, strings.TrimSuffix(name, filepath.Ext(name))+"_copy_pic")
			if err := r.downloadFiles(ctx, node, dir, &stats); err != nil {
				return stats, err
			}
		}

		// Children are pushed in reverse so they are popped in page order,
		// links before templates.
		var next []task
		if t.opts.FollowLinks && t.depth < t.opts.MaxDepth {
			for _, link := range node.Links {
				next = append(next, task{title: link, depth: t.depth + 1, opts: t.opts})
			}
		}
		if t.opts.FollowTemplates {
			for _, tpl := range node.Templates {
				next = append(next, task{title: tpl, depth: t.depth + 1, opts: templateOptions})
			}
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return stats, nil
}

func (r *Run) downloadFiles(ctx context.Context, node *model.Node, dir string, stats *Stats) error {
	if err := resetDir(dir); err != nil {
		r.fail(stats, "prepare file dir", node.Title, err)
		return nil
	}

	for _, file := range node.Files {
		if err := scheduler.Checkpoint(ctx); err != nil {
			return err
		}
		if r.Visited(file) {
			r.f.log.Info("already processed", "file", file)
			r.f.metrics.NodesSkipped.Inc()
			stats.Skipped++
			continue
		}
		r.visited[file] = struct{}{}

		target := filepath.Join(dir, LocalFileName(file))
		if err := r.download(scheduler.Detach(ctx), file, target); err != nil {
			r.fail(stats, "download file", file, err)
			continue
		}
		r.f.log.Info("file downloaded", "file", file, "path", target)
		r.f.metrics.FilesDownloaded.Inc()
		stats.Files++
	}
	return nil
}

func (r *Run) download(ctx context.Context, name, target string) (err error) {
	fd, err := os.Create(target) //nolint:gosec // path built from the output dir
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() {
		if cerr := fd.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(target)
		}
	}()
	return r.f.site.DownloadFile(ctx, name, fd)
}

func (r *Run) fail(stats *Stats, op, name string, err error) {
	r.f.log.Error(op, "name", name, "error", err)
	r.f.metrics.NodeFailures.Inc()
	stats.Failures++
}

// LocalFileName turns a wiki file title into the name it is stored under:
// spaces become underscores and the namespace prefix is dropped.
func LocalFileName(title string) string {
	name := strings.ReplaceAll(title, " ", "_")
	if i := strings.Index(name, ":"); i > -1 {
		name = name[i+1:]
	}
	return name
}

func writePage(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// resetDir leaves dir existing and empty.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
