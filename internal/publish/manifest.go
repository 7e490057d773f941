package publish

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"wikitool/internal/filter"
	"wikitool/internal/model"
)

// ManifestFile is the name of the per-directory list of what to publish.
const ManifestFile = "filter.mt"

const fieldSep = "|"

// UploadEntry is one manifest line of an upload: file|name|description.
type UploadEntry struct {
	File        string
	Name        string
	Description string
}

// ParseUploadLine splits an upload manifest line. Missing fields fall back
// to the file name and defaultDesc. ok is false for blank lines.
func ParseUploadLine(line, defaultDesc string) (e UploadEntry, ok bool) {
	f := fields(line)
	e.File = f[0]
	if e.File == "" {
		return e, false
	}
	e.Name = field(f, 1, e.File)
	e.Description = field(f, 2, defaultDesc)
	return e, true
}

// EditEntry is one manifest line of an edit: file|title|summary|uploadFiles.
type EditEntry struct {
	File    string
	Title   string
	Summary string
	// UploadFiles overrides the command flag when the line sets it.
	UploadFiles *bool
}

// ParseEditLine splits an edit manifest line. The title defaults to the
// decoded file name without extension. ok is false for blank lines.
func ParseEditLine(line, defaultSummary string) (e EditEntry, ok bool) {
	f := fields(line)
	e.File = f[0]
	if e.File == "" {
		return e, false
	}
	e.Title = model.DecodeTitle(field(f, 1, trimExt(e.File)))
	e.Summary = field(f, 2, defaultSummary)
	if len(f) > 3 && f[3] != "" {
		upload := f[3] == "true"
		e.UploadFiles = &upload
	}
	return e, true
}

// Line formats e as a manifest line.
func (e EditEntry) Line() string {
	parts := []string{e.File, e.Title, e.Summary}
	if e.UploadFiles != nil {
		parts = append(parts, fmt.Sprint(*e.UploadFiles))
	}
	return strings.Join(parts, fieldSep)
}

func fields(line string) []string {
	f := strings.Split(line, fieldSep)
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}
	return f
}

func field(f []string, i int, def string) string {
	if i < len(f) && f[i] != "" {
		return f[i]
	}
	return def
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Select returns the manifest lines to process for dir.
//
// An explicit manifest path wins. Otherwise dir/filter.mt is used when it
// exists, and failing that every regular file in dir. set filters the file
// field of each line; a nil set keeps everything.
func Select(dir, manifest, encoding string, set *filter.Set) ([]string, error) {
	if manifest == "" {
		candidate := filepath.Join(dir, ManifestFile)
		if _, err := os.Stat(candidate); err == nil {
			manifest = candidate
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat manifest: %w", err)
		}
	}

	var lines []string
	if manifest != "" {
		text, err := ReadText(manifest, encoding)
		if err != nil {
			return nil, err
		}
		lines = strings.Split(text, "\n")
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && e.Name() != ManifestFile {
				lines = append(lines, e.Name())
			}
		}
	}

	var out []string
	for _, line := range lines {
		file := fields(line)[0]
		if file == "" || !set.Match(file) {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// ReadText reads a text file in the named encoding with line endings
// normalized to "\n". An empty encoding means UTF-8.
func ReadText(path, encoding string) (string, error) {
	fd, err := os.Open(path) //nolint:gosec // path chosen by the operator
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = fd.Close() }()

	var r io.Reader = fd
	if encoding != "" && !strings.EqualFold(encoding, "utf-8") && !strings.EqualFold(encoding, "utf8") {
		enc, err := htmlindex.Get(encoding)
		if err != nil {
			return "", fmt.Errorf("encoding %q: %w", encoding, err)
		}
		r = transform.NewReader(fd, enc.NewDecoder())
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n"), nil
}

// AppendManifest adds line to dir/filter.mt, creating the file if needed.
func AppendManifest(dir, line string) error {
	path := filepath.Join(dir, ManifestFile)
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // path built from the output dir
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	if _, err := fd.WriteString("\n" + line); err != nil {
		_ = fd.Close()
		return fmt.Errorf("append manifest: %w", err)
	}
	if err := fd.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}
