package render

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path"
	"sync"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine renders template strings and named template files.
type Engine interface {
	RenderString(tpl string, data any) (string, error)
	RenderFile(key string, data any) (string, error)
}

// TemplateEngine renders Go templates with the sprig function set.
// Inline strings (subjects) use text/template; files (bodies) use
// html/template so interpolated values are escaped.
// Template files live at email/<key>.html inside files.
type TemplateEngine struct {
	files fs.FS

	mu    sync.RWMutex
	cache map[string]*htmltemplate.Template
}

func NewTemplateEngine(files fs.FS) *TemplateEngine {
	return &TemplateEngine{files: files, cache: make(map[string]*htmltemplate.Template)}
}

// NewDirEngine reads template files from dir on disk.
func NewDirEngine(dir string) *TemplateEngine {
	return NewTemplateEngine(os.DirFS(dir))
}

func (e *TemplateEngine) RenderString(tpl string, data any) (string, error) {
	t, err := texttemplate.New("inline").Funcs(sprig.TxtFuncMap()).Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("parse template string: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template string: %w", err)
	}
	return buf.String(), nil
}

func (e *TemplateEngine) RenderFile(key string, data any) (string, error) {
	t, err := e.load(key)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %q: %w", key, err)
	}
	return buf.String(), nil
}

func (e *TemplateEngine) load(key string) (*htmltemplate.Template, error) {
	e.mu.RLock()
	t, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return t, nil
	}

	name := path.Join("email", key+".html")
	if !fs.ValidPath(name) || path.Dir(name) != "email" {
		return nil, fmt.Errorf("invalid template key %q", key)
	}
	raw, err := fs.ReadFile(e.files, name)
	if err != nil {
		return nil, fmt.Errorf("read template %q: %w", key, err)
	}
	t, err = htmltemplate.New(key).Funcs(sprig.HtmlFuncMap()).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", key, err)
	}

	e.mu.Lock()
	e.cache[key] = t
	e.mu.Unlock()
	return t, nil
}

var _ Engine = (*TemplateEngine)(nil)
