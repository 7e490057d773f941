// Package contrib computes per-namespace and per-user contribution
// statistics over trailing 30-day and 7-day windows and ranks them.
package contrib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"wikitool/internal/model"
	"wikitool/internal/observability"
	"wikitool/internal/scheduler"
)

// DateLayout is used for the "count day" field and the report date.
const DateLayout = "2006-01-02"

// revisionOffset is added to a window start when querying revisions, so a
// revision saved exactly at midnight belongs to the older day.
const revisionOffset = time.Second

// Site is the part of the wiki client the aggregator needs.
type Site interface {
	AllPages(ctx context.Context, namespace, limit int, fn func(model.PageRef) error) error
	FirstRevisionSince(ctx context.Context, title string, since time.Time) (*model.Revision, error)
	ActiveUsers(ctx context.Context, limit int) ([]string, error)
	UserContributions(ctx context.Context, user string, q model.ContribQuery, fn func(model.Contribution) error) error
}

// Windows holds the cutoffs of one aggregation.
type Windows struct {
	Now   time.Time
	Month time.Time
	Week  time.Time
}

// NewWindows returns the 30-day and 7-day cutoffs for now, both at UTC
// midnight.
func NewWindows(now time.Time) Windows {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Windows{
		Now:   now,
		Month: day.AddDate(0, 0, -30),
		Week:  day.AddDate(0, 0, -7),
	}
}

// Day returns the statistics date.
func (w Windows) Day() string {
	return w.Now.Format(DateLayout)
}

// Aggregator counts contributions through a Site.
type Aggregator struct {
	site    Site
	log     *slog.Logger
	metrics *observability.Metrics
}

// New creates an Aggregator. metrics may be nil.
func New(site Site, log *slog.Logger, metrics *observability.Metrics) *Aggregator {
	if metrics == nil {
		metrics = observability.New()
	}
	return &Aggregator{site: site, log: log, metrics: metrics}
}

// CountNamespace counts the non-redirect pages of ns and how many were
// created or changed inside each window.
//
// The newest-window lookup is made first. When it finds a revision, that
// revision is also counted for the month and the month lookup is skipped.
func (a *Aggregator) CountNamespace(ctx context.Context, ns, limit int, w Windows) (model.NamespaceCount, error) {
	var c model.NamespaceCount
	err := a.site.AllPages(scheduler.Detach(ctx), ns, limit, func(p model.PageRef) error {
		if err := scheduler.Checkpoint(ctx); err != nil {
			return err
		}
		c.Count++

		rev, err := a.site.FirstRevisionSince(scheduler.Detach(ctx), p.Title, w.Week.Add(revisionOffset))
		if err != nil {
			a.pageFailed(p.Title, err)
			return nil
		}
		if rev != nil {
			if rev.IsCreation() {
				c.LastWeekAdd++
				c.LastMonthAdd++
			} else {
				c.LastWeekChange++
				c.LastMonthChange++
			}
			return nil
		}

		rev, err = a.site.FirstRevisionSince(scheduler.Detach(ctx), p.Title, w.Month.Add(revisionOffset))
		if err != nil {
			a.pageFailed(p.Title, err)
			return nil
		}
		if rev != nil {
			if rev.IsCreation() {
				c.LastMonthAdd++
			} else {
				c.LastMonthChange++
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			return c, scheduler.ErrStopped
		}
		return c, fmt.Errorf("count namespace %d: %w", ns, err)
	}
	c.Order = c.Score()
	return c, nil
}

func (a *Aggregator) pageFailed(title string, err error) {
	a.log.Error("get revisions", "title", title, "error", err)
	a.metrics.NodeFailures.Inc()
}

// RankNamespaces counts every ranked namespace, rolling child namespaces up
// into their parent, and returns the rows sorted by order. A namespace whose
// enumeration fails is logged and left out.
func (a *Aggregator) RankNamespaces(ctx context.Context, p *NamespaceParams, w Windows) ([]model.RankedNamespace, error) {
	rows := make([]model.RankedNamespace, 0, len(p.RankingNS))
	for _, name := range p.RankingNS {
		a.log.Info("counting namespace", "namespace", name)

		total, err := a.CountNamespace(ctx, int(p.NSDict[name]), p.PageLimit, w)
		if err != nil {
			if errors.Is(err, scheduler.ErrStopped) {
				return nil, err
			}
			a.log.Error("count namespace", "namespace", name, "error", err)
			continue
		}

		failed := false
		for _, child := range p.LevelDict[name] {
			sub, err := a.CountNamespace(ctx, int(p.NSDict[child]), p.PageLimit, w)
			if err != nil {
				if errors.Is(err, scheduler.ErrStopped) {
					return nil, err
				}
				a.log.Error("count namespace", "namespace", child, "parent", name, "error", err)
				failed = true
				break
			}
			total.Add(sub)
		}
		if failed {
			continue
		}

		total.Order = total.Score()
		rows = append(rows, model.RankedNamespace{Name: name, Stats: total})
	}
	SortNamespaces(rows)
	return rows, nil
}

// RankUsers collects the statistics of every user with edits, skipping
// blocked users. The result keeps the site's enumeration order. A user whose
// contributions cannot be listed is logged and left out.
func (a *Aggregator) RankUsers(ctx context.Context, p *PersonParams, w Windows) ([]model.RankedUser, error) {
	users, err := a.site.ActiveUsers(scheduler.Detach(ctx), p.UserLimit)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	namespaces := p.Namespaces()
	rows := make([]model.RankedUser, 0, len(users))
	for i, user := range users {
		if err := scheduler.Checkpoint(ctx); err != nil {
			return nil, err
		}
		if p.Blocked(user) {
			a.log.Debug("user blocked", "user", user)
			continue
		}
		a.log.Debug("ranking user", "user", user, "progress", fmt.Sprintf("%d/%d", i+1, len(users)))

		stat, err := a.userStat(ctx, user, namespaces, p, w)
		if err != nil {
			if errors.Is(err, scheduler.ErrStopped) {
				return nil, err
			}
			a.log.Error("rank user", "user", user, "error", err)
			a.metrics.NodeFailures.Inc()
			continue
		}
		rows = append(rows, model.RankedUser{Name: user, Stats: stat})
		a.metrics.UsersRanked.Inc()
	}
	return rows, nil
}

func (a *Aggregator) userStat(ctx context.Context, user string, namespaces []int, p *PersonParams, w Windows) (model.UserStat, error) {
	var s model.UserStat
	kinds := []struct {
		kind   model.ContribKind
		weight float64
	}{
		{model.ContribNew, p.AddScore},
		{model.ContribChanged, p.ChangeScore},
	}
	for _, k := range kinds {
		if err := scheduler.Checkpoint(ctx); err != nil {
			return s, err
		}
		q := model.ContribQuery{Kind: k.kind, Namespaces: namespaces, Limit: p.ContribLimit}
		err := a.site.UserContributions(scheduler.Detach(ctx), user, q, func(c model.Contribution) error {
			record(&s, k.kind, c.Timestamp, k.weight, w)
			return nil
		})
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

// record adds one contribution. The window checks are independent: a recent
// contribution counts toward total, month and week.
func record(s *model.UserStat, kind model.ContribKind, ts time.Time, weight float64, w Windows) {
	inMonth := ts.After(w.Month)
	inWeek := ts.After(w.Week)

	switch kind {
	case model.ContribNew:
		s.TotalAdd++
		if inMonth {
			s.LastMonthAdd++
		}
		if inWeek {
			s.LastWeekAdd++
		}
	case model.ContribChanged:
		s.TotalChange++
		if inMonth {
			s.LastMonthChange++
		}
		if inWeek {
			s.LastWeekChange++
		}
	}

	s.TotalScore += weight
	if inMonth {
		s.LastMonthScore += weight
	}
	if inWeek {
		s.LastWeekScore += weight
	}
}

// Compute runs both rankings for hp and stores the results in it.
func (a *Aggregator) Compute(ctx context.Context, hp *HostParams, w Windows) error {
	teams, err := a.RankNamespaces(ctx, &hp.NamespaceRanking, w)
	if err != nil {
		return err
	}
	nr := &hp.NamespaceRanking
	nr.Data = make(map[string]model.NamespaceCount, len(teams))
	for _, t := range teams {
		nr.Data[t.Name] = t.Stats
	}
	nr.SortedData = teams
	nr.CountDay = w.Day()

	users, err := a.RankUsers(ctx, &hp.PersonRanking, w)
	if err != nil {
		return err
	}
	pr := &hp.PersonRanking
	pr.Data = make(map[string]model.UserStat, len(users))
	for _, u := range users {
		pr.Data[u.Name] = u.Stats
	}
	pr.SortedDataTotal = SortUsers(users, model.PeriodTotal)
	pr.SortedDataMonth = SortUsers(users, model.PeriodMonth)
	pr.SortedDataWeek = SortUsers(users, model.PeriodWeek)
	pr.CountDay = w.Day()
	return nil
}

// SortNamespaces orders rows by descending order. Ties keep their
// configured order.
func SortNamespaces(rows []model.RankedNamespace) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Stats.Order > rows[j].Stats.Order
	})
}

// SortUsers returns a copy of rows ordered by descending score of period.
// Ties keep their input order.
func SortUsers(rows []model.RankedUser, period model.Period) []model.RankedUser {
	out := make([]model.RankedUser, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Stats.Score(period) > out[j].Stats.Score(period)
	})
	return out
}
