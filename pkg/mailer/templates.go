package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"io/fs"
	"path"
	"strings"
	texttmpl "text/template"
)

// Template names shipped with the service.
const (
	TemplateRequestAccepted = "request_accepted"
	TemplateRequestDeclined = "request_declined"
)

//go:embed templates/*
var embedded embed.FS

// Globals are exposed to every template next to the message data.
type Globals struct {
	SiteName    string
	FrontendURL string
}

type templateContext struct {
	SiteName    string
	FrontendURL string
	Data        any
}

type templatePair struct {
	text *texttmpl.Template
	html *htmltmpl.Template
}

// TemplateRegistry holds parsed templates. It is built once and never mutated,
// so it is safe to share between workers.
type TemplateRegistry struct {
	globals   Globals
	templates map[string]templatePair
}

// NewDefaultRegistry parses the embedded templates.
func NewDefaultRegistry(globals Globals) (*TemplateRegistry, error) {
	return NewTemplateRegistry(embedded, "templates", globals)
}

// NewTemplateRegistry parses every <name>.txt and <name>.gohtml under dir,
// layering each on top of _base.txt / _base.gohtml.
func NewTemplateRegistry(fsys fs.FS, dir string, globals Globals) (*TemplateRegistry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}

	reg := &TemplateRegistry{globals: globals, templates: make(map[string]templatePair)}
	for _, entry := range entries {
		fname := entry.Name()
		ext := path.Ext(fname)
		if entry.IsDir() || strings.HasPrefix(fname, "_") || (ext != ".txt" && ext != ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		pair := reg.templates[name]

		switch ext {
		case ".txt":
			tmpl, err := texttmpl.New(fname).Option("missingkey=error").
				ParseFS(fsys, path.Join(dir, "_base.txt"), path.Join(dir, fname))
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", fname, err)
			}
			pair.text = tmpl
		case ".gohtml":
			tmpl, err := htmltmpl.New(fname).Option("missingkey=error").
				ParseFS(fsys, path.Join(dir, "_base.gohtml"), path.Join(dir, fname))
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", fname, err)
			}
			pair.html = tmpl
		}
		reg.templates[name] = pair
	}

	return reg, nil
}

// Has reports whether a template with the given name exists.
func (r *TemplateRegistry) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Render fills Subject, TextContent and HTMLContent from msg.TemplateName.
// An explicit Subject is kept.
func (r *TemplateRegistry) Render(msg *Message) error {
	if msg.TemplateName == "" {
		return nil
	}
	pair, ok := r.templates[msg.TemplateName]
	if !ok {
		return fmt.Errorf("unknown template %q", msg.TemplateName)
	}

	ctx := templateContext{SiteName: r.globals.SiteName, FrontendURL: r.globals.FrontendURL, Data: msg.TemplateData}

	if pair.text != nil {
		var buf bytes.Buffer
		if err := pair.text.ExecuteTemplate(&buf, "base", ctx); err != nil {
			return fmt.Errorf("render %s.txt: %w", msg.TemplateName, err)
		}
		msg.TextContent = buf.String()

		if msg.Subject == "" && pair.text.Lookup("subject") != nil {
			buf.Reset()
			if err := pair.text.ExecuteTemplate(&buf, "subject", ctx); err != nil {
				return fmt.Errorf("render %s subject: %w", msg.TemplateName, err)
			}
			msg.Subject = strings.TrimSpace(buf.String())
		}
	}

	if pair.html != nil {
		var buf bytes.Buffer
		if err := pair.html.ExecuteTemplate(&buf, "base", ctx); err != nil {
			return fmt.Errorf("render %s.gohtml: %w", msg.TemplateName, err)
		}
		msg.HTMLContent = buf.String()
	}

	return nil
}
