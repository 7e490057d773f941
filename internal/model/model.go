// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Node is a single wiki page as seen by one fetch: its content and the
// resources it refers to.
type Node struct {
	Title     string
	Exists    bool
	Content   string
	Links     []string
	Templates []string
	Files     []string
}

// PageRef identifies a page returned by a namespace enumeration.
type PageRef struct {
	ID        int64
	Namespace int
	Title     string
}

// Revision is a stored version of a page.
type Revision struct {
	ID        int64
	ParentID  int64
	Timestamp time.Time
}

// IsCreation reports whether the revision created the page.
func (r Revision) IsCreation() bool {
	return r.ParentID == 0
}

// ContribKind selects which contributions of a user are listed.
type ContribKind string

// Supported contribution kinds.
const (
	ContribNew     ContribKind = "new"
	ContribChanged ContribKind = "changed"
)

// ContribQuery filters a user contribution listing.
type ContribQuery struct {
	Kind       ContribKind
	Namespaces []int
	Limit      int
}

// Contribution is a single revision authored by a user.
type Contribution struct {
	RevID     int64
	ParentID  int64
	Title     string
	Timestamp time.Time
}

// NamespaceCount holds the page statistics of one namespace (or one team,
// once child namespaces are rolled up).
type NamespaceCount struct {
	Count           int `json:"count"`
	LastMonthAdd    int `json:"last_month_add"`
	LastMonthChange int `json:"last_month_change"`
	LastWeekAdd     int `json:"last_week_add"`
	LastWeekChange  int `json:"last_week_change"`
	Order           int `json:"order"`
}

// Add sums the additive fields of other into c. Order is left untouched.
func (c *NamespaceCount) Add(other NamespaceCount) {
	c.Count += other.Count
	c.LastMonthAdd += other.LastMonthAdd
	c.LastMonthChange += other.LastMonthChange
	c.LastWeekAdd += other.LastWeekAdd
	c.LastWeekChange += other.LastWeekChange
}

// Score computes the ranking order of the namespace.
func (c NamespaceCount) Score() int {
	return c.Count*100 + (c.LastMonthAdd+c.LastMonthChange)*10 + (c.LastWeekAdd + c.LastWeekChange)
}

// UserStat holds the contribution counts and weighted scores of one user.
type UserStat struct {
	TotalAdd        int     `json:"total_add"`
	TotalChange     int     `json:"total_change"`
	TotalScore      float64 `json:"total_ranking_score"`
	LastMonthAdd    int     `json:"last_month_add"`
	LastMonthChange int     `json:"last_month_change"`
	LastMonthScore  float64 `json:"last_month_ranking_score"`
	LastWeekAdd     int     `json:"last_week_add"`
	LastWeekChange  int     `json:"last_week_change"`
	LastWeekScore   float64 `json:"last_week_ranking_score"`
}

// Period selects one of the three ranking windows.
type Period string

// Supported ranking periods.
const (
	PeriodTotal Period = "total"
	PeriodMonth Period = "month"
	PeriodWeek  Period = "week"
)

// Score returns the score of the given period.
func (s UserStat) Score(p Period) float64 {
	switch p {
	case PeriodMonth:
		return s.LastMonthScore
	case PeriodWeek:
		return s.LastWeekScore
	default:
		return s.TotalScore
	}
}

// Counts returns the add and change counts of the given period.
func (s UserStat) Counts(p Period) (add, change int) {
	switch p {
	case PeriodMonth:
		return s.LastMonthAdd, s.LastMonthChange
	case PeriodWeek:
		return s.LastWeekAdd, s.LastWeekChange
	default:
		return s.TotalAdd, s.TotalChange
	}
}

// RankedNamespace is one row of the team ranking.
type RankedNamespace struct {
	Name  string
	Stats NamespaceCount
}

// RankedUser is one row of a personal ranking.
type RankedUser struct {
	Name  string
	Stats UserStat
}

// MarshalJSON encodes the row as a two-element array: [name, stats].
func (r RankedNamespace) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Name, r.Stats})
}

// UnmarshalJSON decodes a [name, stats] pair.
func (r *RankedNamespace) UnmarshalJSON(data []byte) error {
	return unmarshalPair(data, &r.Name, &r.Stats)
}

// MarshalJSON encodes the row as a two-element array: [name, stats].
func (r RankedUser) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Name, r.Stats})
}

// UnmarshalJSON decodes a [name, stats] pair.
func (r *RankedUser) UnmarshalJSON(data []byte) error {
	return unmarshalPair(data, &r.Name, &r.Stats)
}

func unmarshalPair(data []byte, name *string, stats any) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("ranked row: want [name, stats], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], name); err != nil {
		return fmt.Errorf("ranked row name: %w", err)
	}
	if err := json.Unmarshal(pair[1], stats); err != nil {
		return fmt.Errorf("ranked row stats: %w", err)
	}
	return nil
}

// RunKind identifies what a recorded run did.
type RunKind string

// Supported run kinds.
const (
	RunGetPage       RunKind = "getpage"
	RunContributions RunKind = "contributions"
	RunUpload        RunKind = "upload"
	RunEdit          RunKind = "edit"
)

// Run is one recorded command execution against a site.
type Run struct {
	ID         string
	Kind       RunKind
	Host       string
	Target     string
	Items      int
	Failures   int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Change is one entry of a site's recent changes feed.
type Change struct {
	Title   string
	Link    string
	Author  string
	Summary string
	Updated *time.Time
}

// Placeholders used in file names for characters that cannot appear in them.
const (
	NamespaceToken = "{ns}"
	SubpageToken   = "{sub}"
)

// EncodeTitle turns a page title into a file-system safe base name.
func EncodeTitle(title string) string {
	return strings.ReplaceAll(strings.ReplaceAll(title, ":", NamespaceToken), "/", SubpageToken)
}

// DecodeTitle reverses EncodeTitle.
func DecodeTitle(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, NamespaceToken, ":"), SubpageToken, "/")
}
