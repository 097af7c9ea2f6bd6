// Package ui renders the server side HTML: page layouts and the partials
// (modals, toasts, request timelines, stock cards, offer lists) the browser
// bundle swaps in. Every interpolated value goes through html/template.
package ui

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/bloodconnect/platform/internal/bloodtype"
)

//go:embed templates
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Renderer holds the parsed partials and one template set per page
type Renderer struct {
	partials *template.Template
	pages    map[string]*template.Template
}

// New parses the embedded templates
func New() (*Renderer, error) {
	partials, err := template.New("partials").Funcs(funcs).ParseFS(templateFS, "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse partials: %w", err)
	}

	pageFiles, err := fs.Glob(templateFS, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, file := range pageFiles {
		set, err := partials.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := set.ParseFS(templateFS, "templates/layout.html", file); err != nil {
			return nil, fmt.Errorf("parse page %s: %w", file, err)
		}
		pages[strings.TrimSuffix(path.Base(file), ".html")] = set
	}

	return &Renderer{partials: partials, pages: pages}, nil
}

// MustNew is New for program start-up
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Page renders a full page inside the layout
func (r *Renderer) Page(w io.Writer, p Page) error {
	set, ok := r.pages[p.Name]
	if !ok {
		return fmt.Errorf("unknown page %q", p.Name)
	}
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, "layout", p); err != nil {
		return fmt.Errorf("render page %s: %w", p.Name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Partial renders one named partial
func (r *Renderer) Partial(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.partials.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

// Static serves the embedded CSS and JavaScript
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

var funcs = template.FuncMap{
	"date":  formatDate,
	"iso":   formatISO,
	"join":  joinTypes,
	"deref": func(f *float64) float64 { return *f },
	"field": newField,
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	}
	return time.Time{}, false
}

func formatDate(v any) string {
	t, ok := asTime(v)
	if !ok {
		return ""
	}
	return t.Format("Jan 2, 2006 15:04")
}

func formatISO(v any) string {
	t, ok := asTime(v)
	if !ok {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func joinTypes(types []bloodtype.Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// Field is one labelled form input
type Field struct {
	Name  string
	Label string
	Type  string
	Value string
	Error string
}

func newField(name, label, inputType string, value any, errs map[string]string) Field {
	v := fmt.Sprint(value)
	if value == nil {
		v = ""
	}
	return Field{Name: name, Label: label, Type: inputType, Value: v, Error: errs[name]}
}
