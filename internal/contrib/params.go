package contrib

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"wikitool/internal/model"
)

// Defaults applied to a host's ranking parameters.
const (
	DefaultTop          = 10
	DefaultPageLimit    = 5000
	DefaultUserLimit    = 5000
	DefaultContribLimit = 50000
)

var (
	// ErrUnknownHost is returned when the parameter file has no entry for a host.
	ErrUnknownHost = errors.New("host not found in parameter file")
	// ErrInvalidParams is wrapped by every parameter validation failure.
	ErrInvalidParams = errors.New("invalid ranking parameters")
)

// NamespaceID is a namespace number. It decodes from a JSON number or a
// numeric string.
type NamespaceID int

// UnmarshalJSON implements json.Unmarshaler.
func (n *NamespaceID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("namespace id %s: %w", data, err)
	}
	*n = NamespaceID(v)
	return nil
}

// NamespaceParams configures the team ranking and carries its last result.
type NamespaceParams struct {
	Description string                 `json:"description"`
	RankingNS   []string               `json:"ranking_ns"`
	NSDict      map[string]NamespaceID `json:"ns_dict"`
	LevelDict   map[string][]string    `json:"level_dict"`
	PageLimit   int                    `json:"page_limit,omitempty"`

	Data       map[string]model.NamespaceCount `json:"data,omitempty"`
	SortedData []model.RankedNamespace         `json:"sorted_data,omitempty"`
	CountDay   string                          `json:"count day,omitempty"`
}

// PersonParams configures the personal rankings and carries their last result.
type PersonParams struct {
	DescriptionTotal     string        `json:"description_total"`
	DescriptionLastMonth string        `json:"description_last_month"`
	DescriptionLastWeek  string        `json:"description_last_week"`
	NSList               []NamespaceID `json:"ns_list"`
	BlackList            []string      `json:"black_list"`
	AddScore             float64       `json:"add_score"`
	ChangeScore          float64       `json:"change_score"`
	Top                  int           `json:"top"`
	UserLimit            int           `json:"user_limit,omitempty"`
	ContribLimit         int           `json:"contrib_limit,omitempty"`

	Data            map[string]model.UserStat `json:"data,omitempty"`
	SortedDataTotal []model.RankedUser        `json:"sorted_data_total,omitempty"`
	SortedDataMonth []model.RankedUser        `json:"sorted_data_month,omitempty"`
	SortedDataWeek  []model.RankedUser        `json:"sorted_data_week,omitempty"`
	CountDay        string                    `json:"count day,omitempty"`
}

// Namespaces returns NSList as plain ints.
func (p *PersonParams) Namespaces() []int {
	out := make([]int, len(p.NSList))
	for i, ns := range p.NSList {
		out[i] = int(ns)
	}
	return out
}

// Blocked reports whether user is on the block list.
func (p *PersonParams) Blocked(user string) bool {
	for _, b := range p.BlackList {
		if b == user {
			return true
		}
	}
	return false
}

// HostParams is the ranking configuration of one site.
type HostParams struct {
	NamespaceRanking NamespaceParams `json:"namespace_ranking"`
	PersonRanking    PersonParams    `json:"person_ranking"`
}

// ApplyDefaults fills unset limits and the top-N size.
func (h *HostParams) ApplyDefaults() {
	if h.NamespaceRanking.PageLimit <= 0 {
		h.NamespaceRanking.PageLimit = DefaultPageLimit
	}
	if h.PersonRanking.Top <= 0 {
		h.PersonRanking.Top = DefaultTop
	}
	if h.PersonRanking.UserLimit <= 0 {
		h.PersonRanking.UserLimit = DefaultUserLimit
	}
	if h.PersonRanking.ContribLimit <= 0 {
		h.PersonRanking.ContribLimit = DefaultContribLimit
	}
}

// Validate checks that every referenced namespace name is declared and that
// the weights are usable.
func (h *HostParams) Validate() error {
	ns := h.NamespaceRanking
	for _, name := range ns.RankingNS {
		if _, ok := ns.NSDict[name]; !ok {
			return fmt.Errorf("%w: ranking_ns %q missing from ns_dict", ErrInvalidParams, name)
		}
	}
	for parent, children := range ns.LevelDict {
		for _, child := range children {
			if _, ok := ns.NSDict[child]; !ok {
				return fmt.Errorf("%w: level_dict %q child %q missing from ns_dict", ErrInvalidParams, parent, child)
			}
		}
	}
	p := h.PersonRanking
	if p.AddScore < 0 || p.ChangeScore < 0 {
		return fmt.Errorf("%w: add_score and change_score must not be negative", ErrInvalidParams)
	}
	return nil
}

// ParamsFile is the JSON parameter file keyed by host. Entries of hosts
// other than the one being processed are kept as read.
type ParamsFile struct {
	path  string
	hosts map[string]json.RawMessage
}

// LoadParams reads the parameter file at path.
func LoadParams(path string) (*ParamsFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied parameter file
	if err != nil {
		return nil, fmt.Errorf("read parameter file: %w", err)
	}
	hosts := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("decode parameter file %s: %w", path, err)
	}
	return &ParamsFile{path: path, hosts: hosts}, nil
}

// Path returns the file location.
func (f *ParamsFile) Path() string {
	return f.path
}

// Host decodes, defaults and validates the parameters of host.
func (f *ParamsFile) Host(host string) (*HostParams, error) {
	raw, ok := f.hosts[host]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}
	var hp HostParams
	if err := json.Unmarshal(raw, &hp); err != nil {
		return nil, fmt.Errorf("decode parameters of %s: %w", host, err)
	}
	hp.ApplyDefaults()
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	return &hp, nil
}

// SetHost writes the computed results of hp into the entry of host. Every
// other key of the entry is kept as read, so defaults applied by Host never
// reach the file.
func (f *ParamsFile) SetHost(host string, hp *HostParams) error {
	entry, err := decodeObject(f.hosts[host])
	if err != nil {
		return fmt.Errorf("decode parameters of %s: %w", host, err)
	}

	ns := hp.NamespaceRanking
	err = mergeResults(entry, "namespace_ranking", []result{
		{"data", ns.Data},
		{"sorted_data", ns.SortedData},
		{"count day", ns.CountDay},
	})
	if err != nil {
		return fmt.Errorf("encode parameters of %s: %w", host, err)
	}

	p := hp.PersonRanking
	err = mergeResults(entry, "person_ranking", []result{
		{"data", p.Data},
		{"sorted_data_total", p.SortedDataTotal},
		{"sorted_data_month", p.SortedDataMonth},
		{"sorted_data_week", p.SortedDataWeek},
		{"count day", p.CountDay},
	})
	if err != nil {
		return fmt.Errorf("encode parameters of %s: %w", host, err)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode parameters of %s: %w", host, err)
	}
	f.hosts[host] = raw
	return nil
}

type result struct {
	key   string
	value any
}

// mergeResults replaces the result keys of entry[section]. Unset results
// leave the stored value alone.
func mergeResults(entry map[string]json.RawMessage, section string, results []result) error {
	obj, err := decodeObject(entry[section])
	if err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	for _, r := range results {
		raw, err := json.Marshal(r.value)
		if err != nil {
			return fmt.Errorf("%s %s: %w", section, r.key, err)
		}
		if string(raw) == "null" || string(raw) == `""` {
			continue
		}
		obj[r.key] = raw
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	entry[section] = raw
	return nil
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage)
	}
	return obj, nil
}

// Save writes the file back in place through a temporary file.
func (f *ParamsFile) Save() error {
	data, err := json.MarshalIndent(f.hosts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode parameter file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".contributions-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if info, err := os.Stat(f.path); err == nil {
		if err := tmp.Chmod(info.Mode().Perm()); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("keep parameter file mode: %w", err)
		}
	}

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write parameter file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close parameter file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace parameter file: %w", err)
	}
	return nil
}
