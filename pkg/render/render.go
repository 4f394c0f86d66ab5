// Package render fills templates from key-value configuration.
//
// Templates use text/template syntax. A missing variable is an error rather
// than an empty string, so a typo in a job file fails at setup instead of
// producing a broken submit script.
package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	"github.com/3leaps/gosbatch/pkg/command"
	"github.com/3leaps/gosbatch/pkg/errdefs"
)

var funcs = template.FuncMap{
	"quote": command.Quote,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"default": func(def, v any) any {
		if v == nil || v == "" {
			return def
		}
		return v
	},
}

// Render executes src with vars.
func Render(src string, vars any) (string, error) {
	return renderNamed("inline", src, vars)
}

func renderNamed(name, src string, vars any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(funcs).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// RenderFile reads the template at path and executes it with vars. A missing
// file yields errdefs.ErrTemplateNotFound.
func RenderFile(path string, vars any) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", errdefs.ErrTemplateNotFound, path)
		}
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	return renderNamed(filepath.Base(path), string(b), vars)
}

// LoadProjectConfig reads the variables used to render job and app files.
//
// .ini files map each section to its keys (keys are lower-cased, sections keep
// their case, the unnamed default section is dropped when empty). .yaml, .yml,
// .json and .toml files are read with viper.
func LoadProjectConfig(path string) (map[string]any, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("project config %s", path)
		}
		return nil, fmt.Errorf("stat project config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".cfg":
		return loadINI(path)
	default:
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read project config %s: %w", path, err)
		}
		return v.AllSettings(), nil
	}
}

func loadINI(path string) (map[string]any, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read project config %s: %w", path, err)
	}
	out := make(map[string]any)
	for _, sec := range f.Sections() {
		keys := sec.Keys()
		if sec.Name() == ini.DefaultSection && len(keys) == 0 {
			continue
		}
		m := make(map[string]any, len(keys))
		for _, k := range keys {
			m[strings.ToLower(k.Name())] = k.String()
		}
		out[sec.Name()] = m
	}
	return out, nil
}
