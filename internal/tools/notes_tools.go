package tools

import (
	"context"
	"errors"
	"time"

	"github.com/nugget/hearth/internal/notes"
)

const defaultSearchLimit = 20

func notesHandlers() map[string]handler {
	return map[string]handler{
		"list_note_categories": tool[struct{}]{decode: none, run: runListCategories},
		"list_notes":           tool[string]{decode: requiredString("category"), run: runListNotes},
		"read_note":            tool[string]{decode: requiredString("path"), run: runReadNote},
		"create_note":          tool[noteCreate]{decode: decodeNoteCreate, run: runCreateNote},
		"update_note":          tool[noteUpdate]{decode: decodeNoteUpdate, run: runUpdateNote},
		"append_daily_note":    tool[string]{decode: requiredString("text"), run: runAppendDaily},
		"search_notes":         tool[noteSearch]{decode: decodeNoteSearch, run: runSearchNotes},
		"list_tasks":           tool[taskQuery]{decode: decodeTaskQuery, run: runListTasks},
	}
}

func requiredString(field string) func(Args, time.Time) (string, error) {
	return func(a Args, _ time.Time) (string, error) {
		return a.RequiredString(field)
	}
}

func (e *Executor) vault() (*notes.Vault, error) {
	if e.deps.Notes == nil {
		return nil, errNotConfigured("notes")
	}
	return e.deps.Notes, nil
}

func runListCategories(_ context.Context, e *Executor, _ struct{}) (any, error) {
	v, err := e.vault()
	if err != nil {
		return nil, err
	}
	cats, err := v.Categories()
	if err != nil {
		return nil, err
	}
	return map[string]any{"found": true, "categories": cats}, nil
}

func runListNotes(_ context.Context, e *Executor, category string) (any, error) {
	v, err := e.vault()
	if err != nil {
		return nil, err
	}
	list, err := v.List(category)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return map[string]any{"found": false, "message": "No notes in " + category + "."}, nil
	}
	return map[string]any{"found": true, "category": category, "notes": list}, nil
}

func runReadNote(_ context.Context, e *Executor, path string) (any, error) {
	v, err := e.vault()
	if err != nil {
		return nil, err
	}
	n, err := v.Read(path)
	if errors.Is(err, notes.ErrNotFound) {
		return map[string]any{"found": false, "message": "No note at " + path + "."}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"found": true, "note": n}, nil
}

type noteCreate struct {
	category, title, content string
}

func decodeNoteCreate(a Args, _ time.Time) (noteCreate, error) {
	category, err := a.RequiredString("category")
	if err != nil {
		return noteCreate{}, err
	}
	title, err := a.RequiredString("title")
	if err != nil {
		return noteCreate{}, err
	}
	return noteCreate{category: category, title: title, content: a.String("content")}, nil
}

func runCreateNote(_ context.Context, e *Executor, in noteCreate) (any, error) {
	v, err := e.vault()
	if err != nil {
		return nil, err
	}
	n, err := v.Create(in.category, in.title, in.content)
	if errors.Is(err, notes.ErrExists) {
		return map[string]any{
			"success": false,
			"message": "A note with that title already exists. Use update_note to change it.",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	n.Content = ""
	return map[string]any{"success": true, "note": n, "message": "Created " + n.Path + "."}, nil
}

type noteUpdate struct {
	path, content string
	replace       bool
}

func decodeNoteUpdate(a Args, _ time.Time) (noteUpdate, error) {
	path, err := a.RequiredString("path")
	if err != nil {
		return noteUpdate{}, err
	}
	content, err := a.RequiredString("content")
	if err != nil {
		return noteUpdate{}, err
	}
	u := noteUpdate{path: path, content: content}
	switch a.String("mode") {
	case "", "append":
	case "replace":
		u.replace = true
	default:
		return noteUpdate{}, &ArgError{Field: "mode", Reason: "must be append or replace"}
	}
	return u, nil
}

func runUpdateNote(_ context.Context, e *Executor, in noteUpdate) (any, error) {
	v, err := e.vault()
	if err != nil {
		return nil, err
	}
	n, err := v.Update(in.path, in.content, !in.replace)
	if errors.Is(err, notes.ErrNotFound) {
		return map[string]any{"success": false, "message": "No note at " + in.path + "."}, nil
	}
	if err != nil {
		return nil, err
	}
	verb := "Appended to "
	if in.replace {
		verb = "Replaced "
	}
	n.Content = ""
	return map[string]any{"success": true, "note": n, "message": verb + n.Path + "."}, nil
}

func runAppendDaily(ctx context.Context, e *Executor, text string) (any, error) {
	v, err := e.vault()
	if err != nil {
		return nil, err
	}
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	n, err := v.AppendDaily(now, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "path": n.Path, "message": "Added to " + n.Path + "."}, nil
}

type noteSearch struct {
	query string
	limit int
}

func decodeNoteSearch(a Args, _ time.Time) (noteSearch, error) {
	q, err := a.RequiredString("query")
	if err != nil {
		return noteSearch{}, err
	}
	s := noteSearch{query: q, limit: defaultSearchLimit}
	if n := a.Int("limit"); n != nil && *n > 0 {
		s.limit = *n
	}
	return s, nil
}

func runSearchNotes(_ context.Context, e *Executor, in noteSearch) (any, error) {
	v, err := e.vault()
	if err != nil {
		return nil, err
	}
	hits, err := v.Search(in.query, in.limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return map[string]any{"found": false, "message": "No notes mention \"" + in.query + "\"."}, nil
	}
	return map[string]any{"found": true, "hits": hits}, nil
}

type taskQuery struct {
	scope       string
	includeDone bool
}

func decodeTaskQuery(a Args, _ time.Time) (taskQuery, error) {
	return taskQuery{scope: a.String("scope"), includeDone: a.Bool("include_done", false)}, nil
}

func runListTasks(_ context.Context, e *Executor, in taskQuery) (any, error) {
	v, err := e.vault()
	if err != nil {
		return nil, err
	}
	tasks, err := v.Tasks(in.scope, in.includeDone)
	if errors.Is(err, notes.ErrNotFound) {
		return map[string]any{"found": false, "message": "No note or category named " + in.scope + "."}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return map[string]any{"found": false, "message": "No open tasks."}, nil
	}
	return map[string]any{"found": true, "tasks": tasks}, nil
}
