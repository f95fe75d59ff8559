// Package msgcat renders user-facing text from YAML templates. Defaults are
// embedded; an override directory may replace individual keys.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

const defaultFile = "messages.en.yaml"

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog holds flattened dot-keys mapped to text/template sources. Rendering
// fails on missing data keys.
type Catalog struct {
	mu    sync.RWMutex
	data  map[string]string
	cache map[string]*template.Template
}

// New loads the embedded messages and then applies overrides from dir.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{data: make(map[string]string), cache: make(map[string]*template.Template)}
	raw, err := fs.ReadFile(defaultFiles, defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	if err := c.apply(raw); err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	owner := make(map[string]string) // key -> file that set it
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := flatten(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, ok := owner[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			owner[k] = name
		}
		c.set(flat)
	}
	return nil
}

func (c *Catalog) apply(b []byte) error {
	flat, err := flatten(b)
	if err != nil {
		return err
	}
	c.set(flat)
	return nil
}

func (c *Catalog) set(flat map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range flat {
		c.data[k] = v
		delete(c.cache, k)
	}
}

func flatten(b []byte) (map[string]string, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if err := flattenInto(m, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(src any, prefix string, out map[string]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, vv := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flattenInto(vv, key, out); err != nil {
				return err
			}
		}
		return nil
	case string:
		if prefix == "" {
			return errors.New("string value without key")
		}
		out[prefix] = v
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

// Has reports whether key is defined.
func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[strings.TrimSpace(key)]
	return ok
}

// Render executes the template under key with data.
func (c *Catalog) Render(key string, data any) (string, error) {
	key = strings.TrimSpace(key)
	tpl, err := c.template(key)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return b.String(), nil
}

func (c *Catalog) template(key string) (*template.Template, error) {
	c.mu.RLock()
	tpl, cached := c.cache[key]
	src, ok := c.data[key]
	c.mu.RUnlock()
	if cached {
		return tpl, nil
	}
	if !ok || strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("template not found: %s", key)
	}
	tpl, err := template.New(key).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", key, err)
	}
	c.mu.Lock()
	c.cache[key] = tpl
	c.mu.Unlock()
	return tpl, nil
}
