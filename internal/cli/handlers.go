package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"wikitool/internal/config"
	"wikitool/internal/fetcher"
	"wikitool/internal/filter"
	"wikitool/internal/model"
	"wikitool/internal/publish"
	"wikitool/internal/scheduler"
)

func (s *Shell) handleConnect(ctx context.Context, a Args) error {
	host := a.Arg(0)
	if host == "" {
		return errors.New("usage: connect <host> [path=] [scheme=] [auth=] [username=] [password=]")
	}
	site := config.Site{
		Host:      host,
		Path:      a.Value("path", ""),
		Scheme:    a.Value("scheme", ""),
		Auth:      a.Value("auth", ""),
		Username:  a.Value("username", ""),
		Password:  a.Value("password", ""),
		ClientPEM: a.Value("client_pem", ""),
		KeyPEM:    a.Value("key_pem", ""),
	}
	site.ApplyDefaults()
	if err := s.Connect(ctx, site); err != nil {
		return err
	}
	s.println(FormatSite(s.client.Site()))
	return nil
}

func (s *Shell) handleReconnect(ctx context.Context) error {
	c, err := s.connected()
	if err != nil {
		return err
	}
	if err := s.Connect(ctx, c.Site()); err != nil {
		return err
	}
	s.println(FormatSite(s.client.Site()))
	return nil
}

func (s *Shell) handleSite() error {
	c, err := s.connected()
	if err != nil {
		return err
	}
	s.println(FormatSite(c.Site()))
	return nil
}

func (s *Shell) handleGetPage(ctx context.Context, a Args) error {
	c, err := s.connected()
	if err != nil {
		return err
	}
	title := a.Arg(0)
	if title == "" {
		return errors.New("usage: getpage <title> [-output dir] [-filename f] [-d] [-L [n]] [-e] [-t]")
	}
	out := a.Value("-output", s.cfg.WorkPath)
	if info, err := os.Stat(out); err == nil && !info.IsDir() {
		return fmt.Errorf("output path %s is a file", out)
	}
	depth, err := a.Int("-L", fetcher.DefaultMaxDepth)
	if err != nil {
		return err
	}
	opts := fetcher.Options{
		SaveAs:          a.Value("-filename", ""),
		DownloadFiles:   a.Flag("-d"),
		FollowLinks:     a.Flag("-L"),
		MaxDepth:        depth,
		ExpandTemplates: a.Flag("-e"),
		FollowTemplates: a.Flag("-t"),
	}

	run := s.startRun(ctx, model.RunGetPage, c.Site().Host, title)
	stats, err := fetcher.New(c, s.log, s.metrics).NewRun().Fetch(ctx, title, out, opts)
	summary := fmt.Sprintf("pages %d, files %d, missing %d, skipped %d, failures %d",
		stats.Pages, stats.Files, stats.Missing, stats.Skipped, stats.Failures)
	s.finishRun(ctx, run, stats.Pages+stats.Files, stats.Failures, summary)
	return s.report(summary, err)
}

func (s *Shell) handleUpload(ctx context.Context, a Args) error {
	c, err := s.connected()
	if err != nil {
		return err
	}
	dir := a.Value("-input", s.cfg.WorkPath)
	lines, err := selectLines(dir, a)
	if err != nil {
		return err
	}
	opts := publish.UploadOptions{
		Description:    a.Value("-desc", ""),
		Rewrite:        a.Flag("-R"),
		IgnoreWarnings: a.Flag("-I"),
	}

	run := s.startRun(ctx, model.RunUpload, c.Site().Host, dir)
	stats, err := publish.New(c, s.log, s.metrics).NewRun().Upload(ctx, dir, lines, opts)
	summary := fmt.Sprintf("uploaded %d, skipped %d, failures %d", stats.Done, stats.Skipped, stats.Failures)
	s.finishRun(ctx, run, stats.Done, stats.Failures, summary)
	return s.report(summary, err)
}

func (s *Shell) handleEdit(ctx context.Context, a Args) error {
	c, err := s.connected()
	if err != nil {
		return err
	}
	dir := a.Value("-input", s.cfg.WorkPath)
	lines, err := selectLines(dir, a)
	if err != nil {
		return err
	}
	opts := publish.EditOptions{
		Summary:     a.Value("-summary", ""),
		Encoding:    a.Value("-encoding", ""),
		Rewrite:     a.Flag("-R"),
		UploadFiles: a.Flag("-U"),
		Files: publish.UploadOptions{
			Description:    a.Value("-FD", ""),
			Rewrite:        a.Flag("-FR"),
			IgnoreWarnings: a.Flag("-FI"),
		},
	}

	run := s.startRun(ctx, model.RunEdit, c.Site().Host, dir)
	stats, err := publish.New(c, s.log, s.metrics).NewRun().Edit(ctx, dir, lines, opts)
	summary := fmt.Sprintf("saved %d, files %d, skipped %d, failures %d", stats.Done, stats.Files, stats.Skipped, stats.Failures)
	s.finishRun(ctx, run, stats.Done+stats.Files, stats.Failures, summary)
	return s.report(summary, err)
}

func selectLines(dir string, a Args) ([]string, error) {
	var rules []filter.Rule
	for _, p := range a.Values("-match") {
		rules = append(rules, filter.Parse(p, false))
	}
	for _, p := range a.Values("-skip") {
		rules = append(rules, filter.Parse(p, true))
	}
	set, err := filter.Compile(rules)
	if err != nil {
		return nil, err
	}
	return publish.Select(dir, a.Value("-filter", ""), a.Value("-filter_encoding", ""), set)
}

func (s *Shell) handleRecent(ctx context.Context, a Args) error {
	c, err := s.connected()
	if err != nil {
		return err
	}
	days, err := a.Int("-days", 7)
	if err != nil {
		return err
	}
	limit, err := a.Int("-limit", 50)
	if err != nil {
		return err
	}
	changes, err := c.RecentChanges(ctx, days, limit)
	if err != nil {
		return err
	}
	s.println(FormatChanges(changes))
	return nil
}

func (s *Shell) handleHistory(ctx context.Context, a Args) error {
	if s.store == nil {
		return errors.New("run history is not available")
	}
	id := a.Arg(0)
	if id == "" {
		runs, err := s.store.ListRuns(ctx, 20)
		if err != nil {
			return err
		}
		s.println(FormatRunList(runs))
		return nil
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	teams, err := s.store.ListNamespaceCounts(ctx, id)
	if err != nil {
		return err
	}
	users, err := s.store.ListUserStats(ctx, id)
	if err != nil {
		return err
	}
	s.println(FormatSnapshot(*run, teams, users))
	return nil
}

// report prints the outcome of a batch command. An interrupted batch is
// reported but is not an error.
func (s *Shell) report(summary string, err error) error {
	if errors.Is(err, scheduler.ErrStopped) {
		if summary != "" {
			s.println(summary)
		}
		s.println("interrupted")
		return nil
	}
	if err != nil {
		return err
	}
	s.println(summary)
	s.println("done")
	return nil
}

// startRun records the start of a batch. History failures are logged and
// never stop the command.
func (s *Shell) startRun(ctx context.Context, kind model.RunKind, host, target string) *model.Run {
	run := &model.Run{Kind: kind, Host: host, Target: target, StartedAt: s.now().UTC()}
	if s.store == nil {
		return run
	}
	if err := s.store.CreateRun(scheduler.Detach(ctx), run); err != nil {
		s.log.Error("record run", "kind", kind, "error", err)
	}
	return run
}

func (s *Shell) finishRun(ctx context.Context, run *model.Run, items, failures int, summary string) {
	run.Items, run.Failures = items, failures
	if s.store != nil && run.ID != "" {
		if err := s.store.FinishRun(scheduler.Detach(ctx), run); err != nil {
			s.log.Error("finish run", "run_id", run.ID, "error", err)
		}
	}
	if run.FinishedAt == nil {
		now := s.now().UTC()
		run.FinishedAt = &now
	}
	s.notifier.RunFinished(*run, strings.TrimSpace(summary))
}
