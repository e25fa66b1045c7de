package core

import (
	"fmt"
	htmltmpl "html/template"
	"io/fs"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	appfs "github.com/sayghamsari/daftarrabet/fs"
)

const (
	emailTemplatesDir = "assets/templates/email"
	smsTemplatesDir   = "assets/templates/sms"
)

var (
	templates tmplCache
	tmplInit  sync.Once
	tmplErrs  []error
)

type (
	tmplCacheEntry map[string]interface{}    // {ext: *Template}
	tmplCache      map[string]tmplCacheEntry // {dir/name: {tmplCacheEntry}}
)

// ParseTemplates parses the embedded email and SMS templates once and reports parsing errors to logger.
// Templates are otherwise parsed lazily on first use.
func ParseTemplates(logger Logger) {
	tmplInit.Do(parseTemplates)
	for _, err := range tmplErrs {
		logger.Error(fmt.Sprintf("parsing templates: %v", err), err)
	}
}

func lookupTemplate(dir, name, ext string) interface{} {
	tmplInit.Do(parseTemplates)
	entry, ok := templates[path.Join(dir, name)]
	if !ok {
		return nil
	}
	return entry[ext]
}

func parseTemplates() {
	templates = make(tmplCache)
	for _, dir := range []string{emailTemplatesDir, smsTemplatesDir} {
		parseTemplatesDir(appfs.FS, dir)
	}
}

func parseTemplatesDir(fsys fs.FS, dir string) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		tmplErrs = append(tmplErrs, err)
		return
	}

	for _, e := range entries {
		fname := e.Name()
		ext := path.Ext(fname)
		if e.IsDir() || strings.HasPrefix(fname, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := path.Join(dir, strings.TrimSuffix(fname, ext))
		entry, ok := templates[name]
		if !ok {
			entry = make(tmplCacheEntry)
			templates[name] = entry
		}

		fp := path.Join(dir, fname)
		base := path.Join(dir, "_base"+ext)
		patterns := []string{fp}
		if _, err := fs.Stat(fsys, base); err == nil {
			patterns = []string{base, fp}
		}

		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(fsys, patterns...)
			if err != nil {
				tmplErrs = append(tmplErrs, err)
				continue
			}
			entry[ext] = tmpl.Option("missingkey=error")
		} else {
			tmpl, err := htmltmpl.ParseFS(fsys, patterns...)
			if err != nil {
				tmplErrs = append(tmplErrs, err)
				continue
			}
			entry[ext] = tmpl.Option("missingkey=error")
		}
	}
}
