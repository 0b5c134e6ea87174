// Package notes is a file-backed markdown vault. Notes live under
// category folders below a root directory; daily notes live in a
// dedicated folder, one file per date. The vault is plain files so it
// can be synced or edited by any markdown editor.
package notes

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DailyDir is the folder holding one note per date.
const DailyDir = "daily"

var (
	// ErrNotFound is returned when a note does not exist.
	ErrNotFound = errors.New("note not found")

	// ErrExists is returned when creating a note whose file already exists.
	ErrExists = errors.New("note already exists")
)

// Note is a note and its content.
type Note struct {
	Path     string    `json:"path"` // relative to the vault root, e.g. "ideas/garden-plan.md"
	Category string    `json:"category"`
	Title    string    `json:"title"`
	Content  string    `json:"content,omitempty"`
	Modified time.Time `json:"modified"`
}

// Category summarizes one category folder.
type Category struct {
	Name  string `json:"name"`
	Notes int    `json:"notes"`
}

// Vault reads and writes notes below a root directory.
type Vault struct {
	root       string
	categories []string
}

// NewVault opens the vault at root, creating the root, category and
// daily folders when missing.
func NewVault(root string, categories []string) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	v := &Vault{root: abs}
	for _, c := range append(append([]string{}, categories...), DailyDir) {
		c = slugify(c)
		if c == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Join(abs, c), 0o755); err != nil {
			return nil, fmt.Errorf("create category %s: %w", c, err)
		}
		if c != DailyDir {
			v.categories = append(v.categories, c)
		}
	}
	return v, nil
}

// Root returns the absolute vault root.
func (v *Vault) Root() string { return v.root }

// Categories lists the configured categories, plus the daily folder,
// with their note counts.
func (v *Vault) Categories() ([]Category, error) {
	var out []Category
	for _, c := range append(append([]string{}, v.categories...), DailyDir) {
		notes, err := v.List(c)
		if err != nil {
			return nil, err
		}
		out = append(out, Category{Name: c, Notes: len(notes)})
	}
	return out, nil
}

// List returns the notes in a category, most recently modified first.
// Content is not loaded.
func (v *Vault) List(category string) ([]Note, error) {
	if !v.knownCategory(category) {
		return nil, fmt.Errorf("unknown category %q (have: %s, %s)", category, strings.Join(v.categories, ", "), DailyDir)
	}
	entries, err := os.ReadDir(filepath.Join(v.root, category))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", category, err)
	}

	var out []Note
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Note{
			Path:     category + "/" + e.Name(),
			Category: category,
			Title:    titleFromFile(e.Name()),
			Modified: info.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	return out, nil
}

// Read loads one note by its vault-relative path.
func (v *Vault) Read(path string) (*Note, error) {
	abs, rel, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	return v.note(rel, string(data), info.ModTime()), nil
}

// Create writes a new note in category. The file name is derived from
// title. Fails with ErrExists rather than overwriting.
func (v *Vault) Create(category, title, content string) (*Note, error) {
	if !v.knownCategory(category) {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	slug := slugify(title)
	if slug == "" {
		return nil, fmt.Errorf("title %q has no usable characters", title)
	}
	abs, rel, err := v.resolve(category + "/" + slug + ".md")
	if err != nil {
		return nil, err
	}

	body := content
	if !strings.HasPrefix(strings.TrimSpace(content), "# ") {
		body = "# " + title + "\n\n" + content
	}
	body = ensureNewline(body)

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%s: %w", rel, ErrExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", rel, err)
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	return v.note(rel, body, time.Now()), nil
}

// Update replaces a note's content, or appends to it when appendOnly
// is set. The note must already exist.
func (v *Vault) Update(path, content string, appendOnly bool) (*Note, error) {
	abs, rel, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	existing, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	body := content
	if appendOnly {
		body = ensureNewline(string(existing)) + content
	}
	body = ensureNewline(body)
	if err := os.WriteFile(abs, []byte(body), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	return v.note(rel, body, time.Now()), nil
}

// AppendDaily appends a timestamped bullet to the daily note for at's
// date, creating the note with a date heading when needed.
func (v *Vault) AppendDaily(at time.Time, text string) (*Note, error) {
	date := at.Format("2006-01-02")
	abs, rel, err := v.resolve(DailyDir + "/" + date + ".md")
	if err != nil {
		return nil, err
	}

	existing, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		existing = []byte("# " + at.Format("Monday, January 2, 2006") + "\n\n")
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	var b strings.Builder
	b.WriteString(ensureNewline(string(existing)))
	for i, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if i == 0 {
			fmt.Fprintf(&b, "- %s %s\n", at.Format("15:04"), line)
		} else {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	if err := os.WriteFile(abs, []byte(b.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	return v.note(rel, b.String(), time.Now()), nil
}

func (v *Vault) knownCategory(c string) bool {
	if c == DailyDir {
		return true
	}
	for _, k := range v.categories {
		if k == c {
			return true
		}
	}
	return false
}

// resolve maps a vault-relative path to an absolute one, refusing
// anything that escapes the root. A missing .md extension is added.
func (v *Vault) resolve(path string) (abs, rel string, err error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", "", fmt.Errorf("path is required")
	}
	if !strings.HasSuffix(path, ".md") {
		path += ".md"
	}
	abs = filepath.Clean(filepath.Join(v.root, filepath.FromSlash(path)))
	if !strings.HasPrefix(abs, v.root+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path escapes vault: %s", path)
	}
	rel, err = filepath.Rel(v.root, abs)
	if err != nil {
		return "", "", fmt.Errorf("path escapes vault: %s", path)
	}
	return abs, filepath.ToSlash(rel), nil
}

func (v *Vault) note(rel, content string, modified time.Time) *Note {
	category, file, _ := strings.Cut(rel, "/")
	if file == "" {
		category = ""
	}
	return &Note{
		Path:     rel,
		Category: category,
		Title:    titleOf(content, filepath.Base(rel)),
		Content:  content,
		Modified: modified,
	}
}

// titleOf returns the first level-one heading, or a title derived from
// the file name.
func titleOf(content, file string) string {
	for _, line := range strings.Split(content, "\n") {
		if t, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(t)
		}
	}
	return titleFromFile(file)
}

func titleFromFile(name string) string {
	return strings.ReplaceAll(strings.TrimSuffix(name, ".md"), "-", " ")
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
