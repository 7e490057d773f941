// Package report renders contribution rankings as wiki markup.
package report

import (
	"strconv"
	"strings"

	"wikitool/internal/model"
)

// Report is everything needed to render a ranking page.
type Report struct {
	Date       string
	Categories []string

	TeamDescription string
	Teams           []model.RankedNamespace

	TotalDescription string
	MonthDescription string
	WeekDescription  string
	// Total, Month and Week are sorted by the score of their period.
	Total []model.RankedUser
	Month []model.RankedUser
	Week  []model.RankedUser
	Top   int
}

var (
	teamHeader   = []string{"Rank", "Team", "Published pages", "Added last month", "Changed last month", "Added last week", "Changed last week"}
	personHeader = []string{"Rank", "User", "Added pages", "Changed pages", "Score"}
)

// Render returns the ranking page text.
func Render(r Report) string {
	var b strings.Builder

	for _, c := range r.Categories {
		if c = strings.TrimSpace(c); c != "" {
			b.WriteString("[[category:" + c + "]]\n")
		}
	}

	b.WriteString("Statistical date: " + r.Date + "\n\n\n")
	b.WriteString("=Team contribution ranking=\n")
	rows := make([][]string, len(r.Teams))
	for i, t := range r.Teams {
		s := t.Stats
		rows[i] = []string{
			strconv.Itoa(i + 1), t.Name, strconv.Itoa(s.Count),
			strconv.Itoa(s.LastMonthAdd), strconv.Itoa(s.LastMonthChange),
			strconv.Itoa(s.LastWeekAdd), strconv.Itoa(s.LastWeekChange),
		}
	}
	writeTable(&b, r.TeamDescription, "Team contribution ranking", teamHeader, rows)

	b.WriteString("\n\n=Personal contribution ranking=\n==Total contribution ranking==\n")
	writeTable(&b, r.TotalDescription, "Total contribution ranking", personHeader, personRows(r.Total, model.PeriodTotal, r.Top))

	b.WriteString("\n\n==Last month contribution ranking==\n")
	writeTable(&b, r.MonthDescription, "Last month contribution ranking", personHeader, personRows(r.Month, model.PeriodMonth, r.Top))

	b.WriteString("\n\n==Last week contribution ranking==\n")
	writeTable(&b, r.WeekDescription, "Last week contribution ranking", personHeader, personRows(r.Week, model.PeriodWeek, r.Top))

	return b.String()
}

// Personal returns the leading rows of users that appear in a personal
// table: at most top rows, stopping at the first score that is not positive.
func Personal(users []model.RankedUser, period model.Period, top int) []model.RankedUser {
	for i, u := range users {
		if i >= top || u.Stats.Score(period) <= 0 {
			return users[:i]
		}
	}
	return users
}

func personRows(users []model.RankedUser, period model.Period, top int) [][]string {
	kept := Personal(users, period, top)
	rows := make([][]string, len(kept))
	for i, u := range kept {
		add, change := u.Stats.Counts(period)
		rows[i] = []string{
			strconv.Itoa(i + 1), u.Name, strconv.Itoa(add), strconv.Itoa(change),
			FormatScore(u.Stats.Score(period)),
		}
	}
	return rows
}

// FormatScore rounds to two decimals and drops trailing zeros.
func FormatScore(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

func writeTable(b *strings.Builder, description, caption string, header []string, rows [][]string) {
	b.WriteString(description + "\n")
	b.WriteString("{| class=\"wikitable\"\n")
	b.WriteString("|+" + caption + "\n")
	b.WriteString("!" + strings.Join(header, "\n!") + "\n")
	for _, row := range rows {
		b.WriteString("|-\n|" + strings.Join(row, "\n|") + "\n")
	}
	b.WriteString("|}\n")
}
