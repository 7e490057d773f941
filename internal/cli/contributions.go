package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wikitool/internal/contrib"
	"wikitool/internal/model"
	"wikitool/internal/publish"
	"wikitool/internal/report"
	"wikitool/internal/scheduler"
)

const (
	defaultParamsFile = "contributions.json"
	defaultReportName = "Contribution_ranking"
)

type contributionsJob struct {
	paramsPath string
	outDir     string
	name       string
	categories []string
	addFilter  bool
	summary    string
}

func (s *Shell) handleContributions(ctx context.Context, a Args) error {
	c, err := s.connected()
	if err != nil {
		return err
	}

	job := contributionsJob{
		outDir:     a.Value("-out", s.cfg.WorkPath),
		name:       a.Value("-name", defaultReportName),
		categories: strings.Split(a.Value("-add_category", ""), ","),
		addFilter:  a.Flag("-add_filter"),
		summary:    a.Value("-summary", ""),
	}
	if err := os.MkdirAll(job.outDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	job.paramsPath = a.Value("-para_file", filepath.Join(job.outDir, defaultParamsFile))

	raw := a.Value("-every", "")
	if raw == "" {
		return s.report(s.contributions(ctx, c, job))
	}

	every, err := time.ParseDuration(raw)
	if err != nil || every <= 0 {
		return fmt.Errorf("-every: %q is not a positive duration", raw)
	}
	sched := scheduler.New("contributions", func(ctx context.Context) error {
		summary, err := s.contributions(ctx, c, job)
		if err == nil {
			s.println(summary)
		}
		return err
	}, every, s.log)
	s.println(fmt.Sprintf("computing rankings every %s, interrupt to stop", every))
	sched.Run(ctx)
	s.println("stopped")
	return nil
}

// contributions computes the rankings of the connected host, stores them in
// the parameter file and renders the report page.
func (s *Shell) contributions(ctx context.Context, c Client, job contributionsJob) (string, error) {
	host := c.Site().Host
	file, err := contrib.LoadParams(job.paramsPath)
	if err != nil {
		return "", err
	}
	hp, err := file.Host(host)
	if err != nil {
		return "", err
	}

	run := s.startRun(ctx, model.RunContributions, host, job.name)
	w := contrib.NewWindows(s.now())
	err = contrib.New(c, s.log, s.metrics).Compute(ctx, hp, w)
	if err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			s.finishRun(ctx, run, 0, 0, "interrupted")
		} else {
			s.finishRun(ctx, run, 0, 1, err.Error())
		}
		return "", err
	}

	nr, pr := &hp.NamespaceRanking, &hp.PersonRanking
	summary := fmt.Sprintf("%d teams, %d users", len(nr.SortedData), len(pr.Data))
	if err := s.saveContributions(file, host, hp, job, w); err != nil {
		s.finishRun(ctx, run, 0, 1, err.Error())
		return "", err
	}
	if s.store != nil && run.ID != "" {
		dctx := scheduler.Detach(ctx)
		if err := s.store.SaveNamespaceCounts(dctx, run.ID, nr.SortedData); err != nil {
			s.log.Error("store team ranking", "run_id", run.ID, "error", err)
		}
		if err := s.store.SaveUserStats(dctx, run.ID, pr.SortedDataTotal); err != nil {
			s.log.Error("store user ranking", "run_id", run.ID, "error", err)
		}
	}
	s.finishRun(ctx, run, len(nr.SortedData)+len(pr.Data), 0, summary)
	return summary, nil
}

func (s *Shell) saveContributions(file *contrib.ParamsFile, host string, hp *contrib.HostParams, job contributionsJob, w contrib.Windows) error {
	if err := file.SetHost(host, hp); err != nil {
		return err
	}
	if err := file.Save(); err != nil {
		return err
	}

	nr, pr := hp.NamespaceRanking, hp.PersonRanking
	text := report.Render(report.Report{
		Date:             w.Day(),
		Categories:       job.categories,
		TeamDescription:  nr.Description,
		Teams:            nr.SortedData,
		TotalDescription: pr.DescriptionTotal,
		MonthDescription: pr.DescriptionLastMonth,
		WeekDescription:  pr.DescriptionLastWeek,
		Total:            pr.SortedDataTotal,
		Month:            pr.SortedDataMonth,
		Week:             pr.SortedDataWeek,
		Top:              pr.Top,
	})
	path := filepath.Join(job.outDir, job.name+".txt")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	s.log.Info("report written", "path", path)

	if job.addFilter {
		upload := true
		entry := publish.EditEntry{File: job.name + ".txt", Title: model.DecodeTitle(job.name), Summary: job.summary, UploadFiles: &upload}
		if err := publish.AppendManifest(job.outDir, entry.Line()); err != nil {
			return err
		}
	}
	return nil
}
