package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"wikitool/internal/config"
	"wikitool/internal/mediawiki"
	"wikitool/internal/model"
	"wikitool/internal/storage"
)

var testNow = time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC)

type fakeClient struct {
	site    config.Site
	nodes   map[string]*model.Node
	pages   map[int][]string
	users   []string
	created map[string][]time.Time
	changes []model.Change
	edits   []string
	uploads []string
}

func (f *fakeClient) Site() config.Site { return f.site }

func (f *fakeClient) Node(_ context.Context, title string, _ bool) (*model.Node, error) {
	if n, ok := f.nodes[title]; ok {
		return n, nil
	}
	return &model.Node{Title: title}, nil
}

func (f *fakeClient) DownloadFile(_ context.Context, name string, w io.Writer) error {
	_, err := io.WriteString(w, "data of "+name)
	return err
}

func (f *fakeClient) AllPages(_ context.Context, ns, _ int, fn func(model.PageRef) error) error {
	for i, title := range f.pages[ns] {
		if err := fn(model.PageRef{ID: int64(i + 1), Namespace: ns, Title: title}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeClient) FirstRevisionSince(context.Context, string, time.Time) (*model.Revision, error) {
	return nil, nil
}

func (f *fakeClient) ActiveUsers(context.Context, int) ([]string, error) {
	return f.users, nil
}

func (f *fakeClient) UserContributions(_ context.Context, user string, q model.ContribQuery, fn func(model.Contribution) error) error {
	if q.Kind != model.ContribNew {
		return nil
	}
	for _, ts := range f.created[user] {
		if err := fn(model.Contribution{Title: "P", Timestamp: ts}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeClient) FileExists(context.Context, string) (bool, error) { return false, nil }

func (f *fakeClient) PageExists(context.Context, string) (bool, error) { return false, nil }

func (f *fakeClient) Upload(_ context.Context, name string, _ io.Reader, _ string, _ bool) (mediawiki.Result, error) {
	f.uploads = append(f.uploads, name)
	return mediawiki.Result{Status: "Success"}, nil
}

func (f *fakeClient) Edit(_ context.Context, title, _, _ string) (mediawiki.Result, error) {
	f.edits = append(f.edits, title)
	return mediawiki.Result{Status: "Success"}, nil
}

func (f *fakeClient) RecentChanges(context.Context, int, int) ([]model.Change, error) {
	return f.changes, nil
}

type recordingSender struct {
	runs      []model.Run
	summaries []string
}

func (r *recordingSender) RunFinished(run model.Run, summary string) {
	r.runs = append(r.runs, run)
	r.summaries = append(r.summaries, summary)
}

type testShell struct {
	*Shell
	out    *bytes.Buffer
	client *fakeClient
	sent   *recordingSender
	store  *storage.SQLite
	work   string
}

func newTestShell(t *testing.T) *testShell {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ts := &testShell{
		out:   &bytes.Buffer{},
		sent:  &recordingSender{},
		store: store,
		work:  t.TempDir(),
	}
	ts.client = &fakeClient{nodes: map[string]*model.Node{}}
	ts.Shell = New(Options{
		Config:   &config.Config{WorkPath: ts.work},
		Store:    store,
		Notifier: ts.sent,
		Out:      ts.out,
		Now:      func() time.Time { return testNow },
		Dial: func(_ context.Context, site config.Site) (Client, error) {
			if site.Host == "unreachable" {
				return nil, errors.New("dial failed")
			}
			ts.client.site = site
			return ts.client, nil
		},
	})
	return ts
}

func (ts *testShell) exec(t *testing.T, line string) string {
	t.Helper()
	ts.out.Reset()
	if err := ts.Exec(context.Background(), line); err != nil {
		t.Fatalf("Exec(%q): %v", line, err)
	}
	return ts.out.String()
}

func TestCommandsNeedConnection(t *testing.T) {
	ts := newTestShell(t)
	for _, line := range []string{"site", "reconnect", "getpage Main", "upload", "edit", "contributions", "recent"} {
		if err := ts.Exec(context.Background(), line); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected, got %v", line, err)
		}
	}
}

func TestConnect(t *testing.T) {
	ts := newTestShell(t)

	out := ts.exec(t, "connect wiki.example.org path=/w/ auth=http username=bot password=secret")
	want := "connected to http://wiki.example.org/w/\n auth: http  username: bot\n"
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if ts.client.site.Password != "secret" {
		t.Errorf("password not passed to dialer: %+v", ts.client.site)
	}

	if diff := cmp.Diff(want, ts.exec(t, "site")); diff != "" {
		t.Errorf("site output mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, ts.exec(t, "reconnect")); diff != "" {
		t.Errorf("reconnect output mismatch (-want +got):\n%s", diff)
	}

	if err := ts.Exec(context.Background(), "connect"); err == nil {
		t.Error("expected usage error without host")
	}
	if err := ts.Exec(context.Background(), "connect unreachable"); err == nil {
		t.Error("expected dial error")
	}
}

func TestUnknownCommand(t *testing.T) {
	ts := newTestShell(t)
	if err := ts.Exec(context.Background(), "frobnicate"); err == nil {
		t.Error("expected unknown command error")
	}
	if err := ts.Exec(context.Background(), "exit"); !errors.Is(err, ErrExit) {
		t.Errorf("exit returned %v", err)
	}
	if err := ts.Exec(context.Background(), "   "); err != nil {
		t.Errorf("blank line returned %v", err)
	}
}

func TestGetPage(t *testing.T) {
	ts := newTestShell(t)
	ts.exec(t, "connect wiki.example.org")
	ts.client.nodes["Help:Intro"] = &model.Node{
		Title:   "Help:Intro",
		Exists:  true,
		Content: "see [[Other]] [[File:Logo.png]]",
		Links:   []string{"Other"},
		Files:   []string{"File:Logo.png"},
	}
	ts.client.nodes["Other"] = &model.Node{Title: "Other", Exists: true, Content: "other"}

	out := ts.exec(t, "getpage 'Help:Intro' -d -L 1")
	if !strings.HasSuffix(out, "done\n") {
		t.Errorf("unexpected output %q", out)
	}
	for _, name := range []string{"Help{ns}Intro.txt", "Other.txt", "Help{ns}Intro_copy_pic/Logo.png"} {
		if _, err := os.Stat(filepath.Join(ts.work, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	runs, err := ts.store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Kind != model.RunGetPage || runs[0].Items != 3 || runs[0].FinishedAt == nil {
		t.Errorf("unexpected history %+v", runs)
	}
	if len(ts.sent.runs) != 1 || ts.sent.runs[0].Target != "Help:Intro" {
		t.Errorf("unexpected notifications %+v", ts.sent.runs)
	}
}

func TestGetPageRejectsFileOutput(t *testing.T) {
	ts := newTestShell(t)
	ts.exec(t, "connect wiki.example.org")
	file := filepath.Join(ts.work, "plain")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ts.Exec(context.Background(), "getpage Main -output "+file); err == nil {
		t.Error("expected output path error")
	}
}

func TestUploadAndEdit(t *testing.T) {
	ts := newTestShell(t)
	ts.exec(t, "connect wiki.example.org")
	for name, body := range map[string]string{"a.png": "A", "b.jpg": "B", "notes.txt": "N"} {
		if err := os.WriteFile(filepath.Join(ts.work, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	out := ts.exec(t, "upload -match *.png -match *.jpg -desc pictures")
	if diff := cmp.Diff("uploaded 2, skipped 0, failures 0\ndone\n", out); diff != "" {
		t.Errorf("upload output mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.png", "b.jpg"}, ts.client.uploads); diff != "" {
		t.Errorf("uploads mismatch (-want +got):\n%s", diff)
	}

	out = ts.exec(t, "edit -match *.txt -summary sync")
	if diff := cmp.Diff("saved 1, files 0, skipped 0, failures 0\ndone\n", out); diff != "" {
		t.Errorf("edit output mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"notes"}, ts.client.edits); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
}

const testParams = `{
  "wiki.example.org": {
    "namespace_ranking": {
      "description": "Published pages per team.",
      "ranking_ns": ["Dev"],
      "ns_dict": {"Dev": 3000},
      "level_dict": {}
    },
    "person_ranking": {
      "description_total": "All time.",
      "description_last_month": "Last 30 days.",
      "description_last_week": "Last 7 days.",
      "ns_list": [3000],
      "black_list": ["Bot"],
      "add_score": 2,
      "change_score": 0.5,
      "top": 10
    }
  },
  "other.example.org": {"keep": true}
}`

func TestContributions(t *testing.T) {
	ts := newTestShell(t)
	ts.exec(t, "connect wiki.example.org")
	ts.client.pages = map[int][]string{3000: {"Dev:A", "Dev:B"}}
	ts.client.users = []string{"Alice", "Bot"}
	ts.client.created = map[string][]time.Time{
		"Alice": {testNow.AddDate(0, 0, -1)},
		"Bot":   {testNow.AddDate(0, 0, -1)},
	}
	paramsPath := filepath.Join(ts.work, defaultParamsFile)
	if err := os.WriteFile(paramsPath, []byte(testParams), 0o600); err != nil {
		t.Fatal(err)
	}

	out := ts.exec(t, "contributions -add_category Stats,Teams -add_filter -summary auto")
	if diff := cmp.Diff("1 teams, 1 users\ndone\n", out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	page, err := os.ReadFile(filepath.Join(ts.work, defaultReportName+".txt")) //nolint:gosec // test temp file
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	text := string(page)
	for _, want := range []string{
		"[[category:Stats]]\n[[category:Teams]]\n",
		"Statistical date: 2024-06-15\n",
		"|-\n|1\n|Dev\n|2\n|0\n|0\n|0\n|0\n",
		"|-\n|1\n|Alice\n|1\n|0\n|2.0\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Bot") {
		t.Errorf("blocked user in report:\n%s", text)
	}

	data, err := os.ReadFile(paramsPath) //nolint:gosec // test temp file
	if err != nil {
		t.Fatal(err)
	}
	var saved map[string]json.RawMessage
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("decode saved params: %v", err)
	}
	var host struct {
		NamespaceRanking struct {
			CountDay string `json:"count day"`
		} `json:"namespace_ranking"`
	}
	if err := json.Unmarshal(saved["wiki.example.org"], &host); err != nil {
		t.Fatalf("decode host params: %v", err)
	}
	if host.NamespaceRanking.CountDay != "2024-06-15" {
		t.Errorf("count day = %q", host.NamespaceRanking.CountDay)
	}
	var other map[string]bool
	if err := json.Unmarshal(saved["other.example.org"], &other); err != nil || !other["keep"] {
		t.Errorf("other host not preserved: %s", saved["other.example.org"])
	}

	manifest, err := os.ReadFile(filepath.Join(ts.work, "filter.mt")) //nolint:gosec // test temp file
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("\nContribution_ranking.txt|Contribution_ranking|auto|true", string(manifest)); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}

	runs, err := ts.store.ListRuns(context.Background(), 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns: %v, %d runs", err, len(runs))
	}
	snapshot := ts.exec(t, "history "+runs[0].ID)
	for _, want := range []string{"contributions on wiki.example.org", "1. Dev  pages 2", "1. Alice  added 1, changed 0, score 2.0"} {
		if !strings.Contains(snapshot, want) {
			t.Errorf("history missing %q:\n%s", want, snapshot)
		}
	}
	if diff := cmp.Diff([]string{"1 teams, 1 users"}, ts.sent.summaries); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestContributionsUnknownHost(t *testing.T) {
	ts := newTestShell(t)
	ts.exec(t, "connect nowhere.example.org")
	if err := os.WriteFile(filepath.Join(ts.work, defaultParamsFile), []byte(testParams), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ts.Exec(context.Background(), "contributions"); err == nil {
		t.Error("expected unknown host error")
	}
}

func TestContributionsInvalidEvery(t *testing.T) {
	ts := newTestShell(t)
	ts.exec(t, "connect wiki.example.org")
	if err := ts.Exec(context.Background(), "contributions -every soon"); err == nil {
		t.Error("expected duration error")
	}
}

func TestRecent(t *testing.T) {
	ts := newTestShell(t)
	ts.exec(t, "connect wiki.example.org")
	when := time.Date(2024, 6, 14, 9, 30, 0, 0, time.UTC)
	ts.client.changes = []model.Change{
		{Title: "Main Page", Author: "Alice", Updated: &when},
		{Title: "Sandbox"},
	}
	want := "2024-06-14 09:30  Main Page (Alice)\n                  Sandbox\n"
	if diff := cmp.Diff(want, ts.exec(t, "recent -days 3")); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryEmpty(t *testing.T) {
	ts := newTestShell(t)
	if diff := cmp.Diff("No runs recorded yet.\n", ts.exec(t, "history")); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if err := ts.Exec(context.Background(), "history missing-id"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	noStore := New(Options{Out: io.Discard})
	if err := noStore.Exec(context.Background(), "history"); err == nil {
		t.Error("expected error without a store")
	}
}

func TestRun(t *testing.T) {
	ts := newTestShell(t)
	in := strings.NewReader("connect wiki.example.org\nbogus\n\nexit\nsite\n")
	if err := ts.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := ts.out.String()
	if !strings.Contains(out, `error: unknown command "bogus", use help`) {
		t.Errorf("missing error line:\n%s", out)
	}
	if strings.Count(out, "connected to") != 1 {
		t.Errorf("commands after exit must not run:\n%s", out)
	}
}
