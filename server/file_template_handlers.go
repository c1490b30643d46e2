package server

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/jrsteele09/hotel-ops-gateway/guard"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static/*
var staticFiles embed.FS

func TemplateFilesFS() fs.FS {
	subFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("Failed to create templates sub filesystem: " + err.Error())
	}
	return subFS
}

// ParseTemplate parses a template from the embedded filesystem
func ParseTemplate(name string) (*template.Template, error) {
	content, err := fs.ReadFile(TemplateFilesFS(), name)
	if err != nil {
		return nil, err
	}
	return template.New(name).Parse(string(content))
}

type pageData struct {
	AppName     string
	CallbackURL string
}

type pages struct {
	appName   string
	templates map[string]*template.Template
	static    fs.FS
}

// newPages parses the page templates once. Assets come from staticFolder
// when set, otherwise from the embedded defaults.
func newPages(appName, staticFolder string) (*pages, error) {
	p := &pages{appName: appName, templates: make(map[string]*template.Template)}
	for _, name := range []string{"index.html", "login.html", "dashboard.html"} {
		tmpl, err := ParseTemplate(name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		p.templates[name] = tmpl
	}

	if staticFolder != "" {
		p.static = os.DirFS(staticFolder)
		return p, nil
	}
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub filesystem: %w", err)
	}
	p.static = sub
	return p, nil
}

func (p *pages) handler(name string) http.HandlerFunc {
	tmpl := p.templates[name]
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{
			AppName:     p.appName,
			CallbackURL: safeCallback(r.URL.Query().Get(guard.CallbackParameter)),
		}
		w.Header().Set("Content-Type", contentTypeHTML)
		if err := tmpl.Execute(w, data); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("template", name).Msg("failed to render page")
		}
	}
}

func (p *pages) assets() http.HandlerFunc {
	fileServer := http.StripPrefix(strings.TrimSuffix(RouteStatic, "/"), http.FileServer(http.FS(p.static)))
	return fileServer.ServeHTTP
}

// safeCallback only allows local paths so the login page cannot be turned
// into an open redirect.
func safeCallback(callback string) string {
	if !strings.HasPrefix(callback, "/") || strings.HasPrefix(callback, "//") || strings.Contains(callback, `\`) {
		return guard.PathDashboard
	}
	return callback
}
