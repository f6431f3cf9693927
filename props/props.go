// Package props supplies the property layer the container validates its
// required configuration against: an ordered chain of key/value sources
// backed by maps, the process environment, .env files, or YAML files.
package props

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrNoSource is returned by Require when the environment has no sources.
var ErrNoSource = errors.New("props: no property source configured")

// MissingPropertiesError lists required keys absent from every source.
type MissingPropertiesError struct{ Keys []string }

// Error implements the error interface.
func (e MissingPropertiesError) Error() string {
	quoted := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		quoted[i] = strconv.Quote(k)
	}
	return "props: required properties missing: " + strings.Join(quoted, ", ")
}

// Source is one read-only property provider.
type Source interface {
	Name() string
	Lookup(key string) (string, bool)
}

// MapSource is an in-memory source with a chaining Provide API:
//
//	src := props.NewMapSource("defaults").Provide("app.name", "demo")
type MapSource struct {
	name  string
	items map[string]string
}

// NewMapSource creates an empty map source.
func NewMapSource(name string) *MapSource {
	return &MapSource{name: name, items: map[string]string{}}
}

// Provide stores a value under a key and returns the source for chaining.
func (s *MapSource) Provide(key, val string) *MapSource {
	s.items[key] = val
	return s
}

// Name implements Source.
func (s *MapSource) Name() string { return s.name }

// Lookup implements Source.
func (s *MapSource) Lookup(key string) (string, bool) {
	v, ok := s.items[key]
	return v, ok
}

type envSource struct{}

// Env exposes the process environment as a source. Dotted keys are also
// tried in SCREAMING_SNAKE form, so "app.name" finds APP_NAME.
func Env() Source { return envSource{} }

func (envSource) Name() string { return "env" }

func (envSource) Lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	upper := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	return os.LookupEnv(upper)
}

// FromDotenv reads a .env file into a source.
func FromDotenv(path string) (Source, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("props: reading %s: %w", path, err)
	}
	src := NewMapSource("dotenv:" + path)
	for k, v := range values {
		src.Provide(k, v)
	}
	return src, nil
}

// FromYAML reads a YAML file into a source, flattening nested mappings into
// dotted keys ("server: {port: 8080}" becomes "server.port").
func FromYAML(path string) (Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("props: reading %s: %w", path, err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("props: parsing %s: %w", path, err)
	}
	src := NewMapSource("yaml:" + path)
	flatten("", tree, src)
	return src, nil
}

func flatten(prefix string, tree map[string]any, into *MapSource) {
	// Deterministic iteration keeps duplicate-key resolution stable.
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := tree[k].(type) {
		case map[string]any:
			flatten(key, v, into)
		case nil:
			into.Provide(key, "")
		default:
			into.Provide(key, fmt.Sprintf("%v", v))
		}
	}
}

// Environment is an ordered chain of sources; earlier sources win.
type Environment struct {
	sources []Source
}

// NewEnvironment builds an environment over the given sources.
func NewEnvironment(sources ...Source) *Environment {
	return &Environment{sources: sources}
}

// AddSource appends a source with the lowest precedence.
func (e *Environment) AddSource(s Source) *Environment {
	e.sources = append(e.sources, s)
	return e
}

// Lookup returns the first source's value for key.
func (e *Environment) Lookup(key string) (string, bool) {
	for _, s := range e.sources {
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// Get returns the value for key or fallback when absent.
func (e *Environment) Get(key, fallback string) string {
	if v, ok := e.Lookup(key); ok {
		return v
	}
	return fallback
}

// Require verifies every key resolves to a value; all missing keys are
// reported at once.
func (e *Environment) Require(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if len(e.sources) == 0 {
		return ErrNoSource
	}
	var missing []string
	for _, k := range keys {
		if _, ok := e.Lookup(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return MissingPropertiesError{Keys: missing}
	}
	return nil
}
