package cli

import (
	"fmt"
	"strings"

	"wikitool/internal/config"
	"wikitool/internal/model"
	"wikitool/internal/report"
)

const timeFormat = "2006-01-02 15:04"

// FormatSite describes the connection in effect.
func FormatSite(site config.Site) string {
	return fmt.Sprintf("connected to %s://%s%s\n auth: %s  username: %s",
		site.Scheme, site.Host, site.Path, site.Auth, site.Username)
}

// FormatRunList renders a history listing.
func FormatRunList(runs []model.Run) string {
	if len(runs) == 0 {
		return "No runs recorded yet."
	}

	var b strings.Builder
	for _, r := range runs {
		status := "running"
		if r.FinishedAt != nil {
			status = r.FinishedAt.Sub(r.StartedAt).String()
		}
		fmt.Fprintf(&b, "%s  %s  %-13s %s  %s  items %d, failures %d  (%s)\n",
			r.ID, r.StartedAt.UTC().Format(timeFormat), r.Kind, r.Host, r.Target, r.Items, r.Failures, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSnapshot renders one run with the rankings stored for it.
func FormatSnapshot(run model.Run, teams []model.RankedNamespace, users []model.RankedUser) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s on %s, %s\n", run.ID, run.Kind, run.Host, run.Target)
	fmt.Fprintf(&b, "Started %s, items %d, failures %d\n", run.StartedAt.UTC().Format(timeFormat), run.Items, run.Failures)

	if len(teams) > 0 {
		b.WriteString("\nTeams:\n")
		for i, t := range teams {
			fmt.Fprintf(&b, "%3d. %s  pages %d, month +%d/~%d, week +%d/~%d\n", i+1, t.Name,
				t.Stats.Count, t.Stats.LastMonthAdd, t.Stats.LastMonthChange, t.Stats.LastWeekAdd, t.Stats.LastWeekChange)
		}
	}
	if len(users) > 0 {
		b.WriteString("\nUsers:\n")
		for i, u := range users {
			fmt.Fprintf(&b, "%3d. %s  added %d, changed %d, score %s\n", i+1, u.Name,
				u.Stats.TotalAdd, u.Stats.TotalChange, report.FormatScore(u.Stats.TotalScore))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatChanges renders a recent changes listing.
func FormatChanges(changes []model.Change) string {
	if len(changes) == 0 {
		return "No recent changes."
	}

	var b strings.Builder
	for _, c := range changes {
		when := "                "
		if c.Updated != nil {
			when = c.Updated.UTC().Format(timeFormat)
		}
		fmt.Fprintf(&b, "%s  %s", when, c.Title)
		if c.Author != "" {
			fmt.Fprintf(&b, " (%s)", c.Author)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

const helpText = `Site:
connect <host> [path=/] [scheme=http] [auth=no-auth|http|old-login|ssl]
        [username=] [password=] [client_pem=] [key_pem=]
reconnect - connect again with the current settings
site - show the current connection

Pages:
getpage <title> [-output dir] [-filename f] [-d] [-L [n]] [-e] [-t]
    -d download embedded files, -L follow links (default depth 3),
    -e expand templates, -t fetch used templates
upload [-input dir] [-filter f] [-filter_encoding e] [-desc s]
       [-match glob] [-skip glob] [-R] [-I]
    -R replace existing files, -I ignore upload warnings
edit [-input dir] [-encoding e] [-filter f] [-filter_encoding e] [-summary s]
     [-match glob] [-skip glob] [-R] [-U] [-FR] [-FI] [-FD s]
    -R replace existing pages, -U upload <page>_copy_pic first,
    -FR/-FI/-FD rewrite, ignore warnings and description of those files

Statistics:
contributions [-para_file f] [-out dir] [-name n] [-add_category a,b]
              [-add_filter] [-summary s] [-every 24h]
recent [-days 7] [-limit 50]
history [run_id]

help, exit`
