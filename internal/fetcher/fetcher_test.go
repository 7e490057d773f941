package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"wikitool/internal/model"
	"wikitool/internal/scheduler"
)

type fakeSite struct {
	pages     map[string]*model.Node
	errs      map[string]error
	files     map[string]string
	calls     map[string]int
	downloads map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:     make(map[string]*model.Node),
		errs:      make(map[string]error),
		files:     make(map[string]string),
		calls:     make(map[string]int),
		downloads: make(map[string]int),
	}
}

func (s *fakeSite) page(title, content string, links, templates, files []string) {
	s.pages[title] = &model.Node{
		Title:     title,
		Exists:    true,
		Content:   content,
		Links:     links,
		Templates: templates,
		Files:     files,
	}
}

func (s *fakeSite) Node(_ context.Context, title string, _ bool) (*model.Node, error) {
	s.calls[title]++
	if err := s.errs[title]; err != nil {
		return nil, err
	}
	if n, ok := s.pages[title]; ok {
		return n, nil
	}
	return &model.Node{Title: title}, nil
}

func (s *fakeSite) DownloadFile(_ context.Context, name string, w io.Writer) error {
	s.downloads[name]++
	data, ok := s.files[name]
	if !ok {
		return errors.New("no such file")
	}
	_, err := io.WriteString(w, data)
	return err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	sort.Strings(out)
	return out
}

func TestFetchTerminatesOnCycle(t *testing.T) {
	site := newFakeSite()
	site.page("A", "a", []string{"B"}, nil, nil)
	site.page("B", "b", []string{"A"}, nil, nil)
	dir := t.TempDir()

	run := New(site, testLogger(), nil).NewRun()
	stats, err := run.Fetch(context.Background(), "A", dir, Options{FollowLinks: true, MaxDepth: 10})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if diff := cmp.Diff(Stats{Pages: 2, Skipped: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"A": 1, "B": 1}, site.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchDepthBound(t *testing.T) {
	site := newFakeSite()
	site.page("Root", "r", []string{"Child"}, nil, nil)
	site.page("Child", "c", []string{"Grandchild"}, nil, nil)
	site.page("Grandchild", "g", nil, nil, nil)
	dir := t.TempDir()

	run := New(site, testLogger(), nil).NewRun()
	if _, err := run.Fetch(context.Background(), "Root", dir, Options{FollowLinks: true, MaxDepth: 1}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if diff := cmp.Diff([]string{"Child.txt", "Root.txt"}, listFiles(t, dir)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if site.calls["Grandchild"] != 0 {
		t.Error("grandchild should not be requested")
	}
}

func TestFetchLinksDisabled(t *testing.T) {
	site := newFakeSite()
	site.page("Root", "r", []string{"Child"}, nil, nil)
	dir := t.TempDir()

	run := New(site, testLogger(), nil).NewRun()
	if _, err := run.Fetch(context.Background(), "Root", dir, Options{MaxDepth: DefaultMaxDepth}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if diff := cmp.Diff([]string{"Root.txt"}, listFiles(t, dir)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchDedupAcrossBranches(t *testing.T) {
	site := newFakeSite()
	site.page("Root", "r", []string{"X", "Y"}, nil, nil)
	site.page("X", "x", []string{"Shared"}, nil, nil)
	site.page("Y", "y", []string{"Shared"}, nil, nil)
	site.page("Shared", "s", nil, nil, nil)
	dir := t.TempDir()

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	run := New(site, log, nil).NewRun()
	stats, err := run.Fetch(context.Background(), "Root", dir, Options{FollowLinks: true, MaxDepth: 3})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if !strings.Contains(logs.String(), `msg="already processed" title=Shared`) {
		t.Errorf("second visit of Shared not logged, got:\n%s", logs.String())
	}
	if site.calls["Shared"] != 1 {
		t.Errorf("Shared requested %d times, want 1", site.calls["Shared"])
	}
	if diff := cmp.Diff(Stats{Pages: 4, Skipped: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchIsIdempotentWithinRun(t *testing.T) {
	site := newFakeSite()
	site.page("Help:Intro/Setup", "text", []string{"Other"}, nil, nil)
	site.page("Other", "o", nil, nil, nil)
	dir := t.TempDir()
	opts := Options{FollowLinks: true, MaxDepth: 3}

	run := New(site, testLogger(), nil).NewRun()
	if _, err := run.Fetch(context.Background(), "Help:Intro/Setup", dir, opts); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	before := listFiles(t, dir)

	stats, err := run.Fetch(context.Background(), "Help:Intro/Setup", dir, opts)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if diff := cmp.Diff(Stats{Skipped: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, listFiles(t, dir)); diff != "" {
		t.Errorf("files changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Help{ns}Intro{sub}Setup.txt", "Other.txt"}, before); diff != "" {
		t.Errorf("file names mismatch (-want +got):\n%s", diff)
	}
	if site.calls["Help:Intro/Setup"] != 1 {
		t.Errorf("page requested %d times, want 1", site.calls["Help:Intro/Setup"])
	}
}

func TestFetchTemplatesAndFiles(t *testing.T) {
	site := newFakeSite()
	site.page("Root", "r", []string{"Linked"}, []string{"Template:Box"}, []string{"File:My pic.png"})
	site.page("Template:Box", "box", []string{"Ignored"}, []string{"Template:Inner", "Template:Box"}, []string{"File:Icon.svg", "File:My pic.png"})
	site.page("Template:Inner", "inner", nil, []string{"Template:Box"}, nil)
	site.files["File:My pic.png"] = "png"
	site.files["File:Icon.svg"] = "svg"
	dir := t.TempDir()

	run := New(site, testLogger(), nil).NewRun()
	stats, err := run.Fetch(context.Background(), "Root", dir, Options{DownloadFiles: true, FollowTemplates: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := []string{
		"Root.txt",
		"Root_copy_pic/My_pic.png",
		"Template{ns}Box.txt",
		"Template{ns}Box_copy_pic/Icon.svg",
		"Template{ns}Inner.txt",
	}
	if diff := cmp.Diff(want, listFiles(t, dir)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if site.calls["Ignored"] != 0 || site.calls["Linked"] != 0 {
		t.Error("links must not be followed")
	}
	if site.downloads["File:My pic.png"] != 1 {
		t.Errorf("shared file downloaded %d times, want 1", site.downloads["File:My pic.png"])
	}
	if diff := cmp.Diff(Stats{Pages: 3, Files: 2, Skipped: 3}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, "Root_copy_pic", "My_pic.png"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "png" {
		t.Errorf("file content = %q, want png", data)
	}
}

func TestFetchClearsFileDir(t *testing.T) {
	site := newFakeSite()
	site.page("Root", "r", nil, nil, nil)
	dir := t.TempDir()
	stale := filepath.Join(dir, "Root_copy_pic", "old.png")
	if err := os.MkdirAll(filepath.Dir(stale), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	run := New(site, testLogger(), nil).NewRun()
	if _, err := run.Fetch(context.Background(), "Root", dir, Options{DownloadFiles: true}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale file should be removed, stat err = %v", err)
	}
}

func TestFetchIsolatesFailures(t *testing.T) {
	site := newFakeSite()
	site.page("Root", "r", []string{"Broken", "Gone", "Fine"}, nil, []string{"File:Missing.png"})
	site.page("Fine", "f", nil, nil, nil)
	site.errs["Broken"] = errors.New("api error")
	dir := t.TempDir()

	run := New(site, testLogger(), nil).NewRun()
	stats, err := run.Fetch(context.Background(), "Root", dir, Options{DownloadFiles: true, FollowLinks: true, MaxDepth: 1})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if diff := cmp.Diff(Stats{Pages: 2, Missing: 1, Failures: 2}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Fine.txt", "Root.txt"}, listFiles(t, dir)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchSaveAs(t *testing.T) {
	site := newFakeSite()
	site.page("Main Page", "m", []string{"Next"}, nil, nil)
	site.page("Next", "n", nil, nil, nil)
	dir := t.TempDir()

	run := New(site, testLogger(), nil).NewRun()
	_, err := run.Fetch(context.Background(), "Main Page", dir, Options{SaveAs: "home.wiki", FollowLinks: true, MaxDepth: 1})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if diff := cmp.Diff([]string{"Next.txt", "home.wiki"}, listFiles(t, dir)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchStopsWhenCancelled(t *testing.T) {
	site := newFakeSite()
	site.page("Root", "r", nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := New(site, testLogger(), nil).NewRun()
	_, err := run.Fetch(ctx, "Root", t.TempDir(), Options{})
	if !errors.Is(err, scheduler.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if len(site.calls) != 0 {
		t.Errorf("no page should be requested, got %v", site.calls)
	}
}

func TestLocalFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "File:My picture.png", want: "My_picture.png"},
		{in: "Datei:a:b.png", want: "a:b.png"},
		{in: "plain.png", want: "plain.png"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, LocalFileName(tt.in)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
