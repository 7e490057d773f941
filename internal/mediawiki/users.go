package mediawiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wikitool/internal/model"
)

// ActiveUsers lists users with at least one edit, up to limit (0 means no cap).
func (c *Client) ActiveUsers(ctx context.Context, limit int) ([]string, error) {
	params := url.Values{
		"list":            {"allusers"},
		"auwitheditsonly": {"1"},
		"aulimit":         {"max"},
		"continue":        {""},
	}

	var users []string
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var q struct {
			AllUsers []struct {
				Name string `json:"name"`
			} `json:"allusers"`
		}
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decode allusers: %w", err)
		}
		for _, u := range q.AllUsers {
			if limit > 0 && len(users) >= limit {
				return errStop
			}
			users = append(users, u.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UserContributions calls fn for each contribution of user matching q.
func (c *Client) UserContributions(ctx context.Context, user string, q model.ContribQuery, fn func(model.Contribution) error) error {
	params := url.Values{
		"list":     {"usercontribs"},
		"ucuser":   {user},
		"ucprop":   {"ids|title|timestamp"},
		"uclimit":  {"max"},
		"continue": {""},
	}
	switch q.Kind {
	case model.ContribNew:
		params.Set("ucshow", "new")
	case model.ContribChanged:
		params.Set("ucshow", "!new|!minor")
	}
	if len(q.Namespaces) > 0 {
		ns := make([]string, len(q.Namespaces))
		for i, n := range q.Namespaces {
			ns[i] = strconv.Itoa(n)
		}
		params.Set("ucnamespace", strings.Join(ns, "|"))
	}

	seen := 0
	err := c.query(ctx, params, func(raw json.RawMessage) error {
		var resp struct {
			UserContribs []struct {
				RevID     int64     `json:"revid"`
				ParentID  int64     `json:"parentid"`
				Title     string    `json:"title"`
				Timestamp time.Time `json:"timestamp"`
			} `json:"usercontribs"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("decode usercontribs: %w", err)
		}
		for _, uc := range resp.UserContribs {
			if q.Limit > 0 && seen >= q.Limit {
				return errStop
			}
			seen++
			err := fn(model.Contribution{
				RevID:     uc.RevID,
				ParentID:  uc.ParentID,
				Title:     uc.Title,
				Timestamp: uc.Timestamp,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list contributions of %q: %w", user, err)
	}
	return nil
}
