package notes

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Hit is one matching line from a search.
type Hit struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Task is a markdown task-list item ("- [ ] buy milk").
type Task struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Search returns lines containing query, case-insensitively, across
// every note. At most limit hits are returned (0 = 50).
func (v *Vault) Search(query string, limit int) ([]Hit, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 50
	}

	var hits []Hit
	err := v.walk("", func(rel string, data []byte) bool {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for n := 1; sc.Scan(); n++ {
			line := sc.Text()
			if strings.Contains(strings.ToLower(line), query) {
				hits = append(hits, Hit{Path: rel, Line: n, Text: strings.TrimSpace(line)})
				if len(hits) >= limit {
					return false
				}
			}
		}
		return true
	})
	return hits, err
}

var taskMarkdown = goldmark.New(goldmark.WithExtensions(extension.TaskList))

// Tasks lists task-list items in notes under scope, which may be a
// category, a single note path, or empty for the whole vault.
// Completed tasks are included only when includeDone is set.
func (v *Vault) Tasks(scope string, includeDone bool) ([]Task, error) {
	var tasks []Task
	err := v.walk(scope, func(rel string, data []byte) bool {
		for _, t := range parseTasks(data) {
			if t.Done && !includeDone {
				continue
			}
			t.Path = rel
			tasks = append(tasks, t)
		}
		return true
	})
	return tasks, err
}

// parseTasks extracts task items using the goldmark task-list AST, so
// checkboxes inside code blocks are ignored.
func parseTasks(src []byte) []Task {
	doc := taskMarkdown.Parser().Parse(text.NewReader(src))

	var tasks []Task
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		cb, ok := n.(*east.TaskCheckBox)
		if !ok {
			return ast.WalkContinue, nil
		}

		var b strings.Builder
		for s := cb.NextSibling(); s != nil; s = s.NextSibling() {
			b.Write(s.Text(src))
		}
		t := Task{Text: strings.TrimSpace(b.String()), Done: cb.IsChecked}
		if parent := cb.Parent(); parent != nil && parent.Lines().Len() > 0 {
			t.Line = bytes.Count(src[:parent.Lines().At(0).Start], []byte("\n")) + 1
		}
		tasks = append(tasks, t)
		return ast.WalkSkipChildren, nil
	})
	return tasks
}

var errStopWalk = errors.New("stop walk")

// walk calls fn with every note under scope until fn returns false.
func (v *Vault) walk(scope string, fn func(rel string, data []byte) bool) error {
	start := v.root
	if scope != "" {
		if strings.HasSuffix(scope, ".md") {
			abs, rel, err := v.resolve(scope)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return ErrNotFound
				}
				return fmt.Errorf("read %s: %w", rel, err)
			}
			fn(rel, data)
			return nil
		}
		if !v.knownCategory(scope) {
			return fmt.Errorf("unknown category %q", scope)
		}
		start = filepath.Join(v.root, scope)
	}

	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != start && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(v.root, path)
		if !fn(filepath.ToSlash(rel), data) {
			return errStopWalk
		}
		return nil
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}
