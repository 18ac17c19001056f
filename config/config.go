// Package config stores typed settings in a sectioned YAML file.
//
// Settings are declared with Bind, which returns an Entry holding the value
// read from the file or the default. Save writes every bound entry back with
// its description as a comment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Scalar is the set of value types an Entry can hold.
type Scalar interface {
	bool | int | int64 | float64 | string
}

// File is a configuration file. The zero value is not usable; call Open.
type File struct {
	path   string
	logger zerolog.Logger

	mu       sync.Mutex
	raw      map[string]map[string]yaml.Node
	sections []string
	entries  []binding
}

// binding is the type-independent view of an Entry.
type binding interface {
	section() string
	key() string
	description() string
	encode() (*yaml.Node, error)
	validate() error
}

// Option configures a File.
type Option func(*File)

// WithLogger sets the logger that receives validation warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *File) {
		f.logger = logger
	}
}

// Open reads the file at path. A missing file is treated as empty.
func Open(path string, opts ...Option) (*File, error) {
	f := &File{
		path:   path,
		logger: zerolog.Nop(),
		raw:    map[string]map[string]yaml.Node{},
	}
	for _, opt := range opts {
		opt(f)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.raw); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if f.raw == nil {
		f.raw = map[string]map[string]yaml.Node{}
	}
	return f, nil
}

// Path returns the location of the file.
func (f *File) Path() string {
	return f.path
}

// Bind declares the setting key in section. The stored value is used if it
// can be read as T, otherwise def. Stored values are not checked against the
// constraints until Validate.
func Bind[T Scalar](f *File, section, key string, def T, desc string, constraints ...Constraint[T]) (*Entry[T], error) {
	for _, c := range constraints {
		if !c.Allows(def) {
			return nil, fmt.Errorf("default of %s.%s violates %s", section, key, c)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.entries {
		if b.section() == section && b.key() == key {
			return nil, fmt.Errorf("%s.%s is already bound", section, key)
		}
	}

	e := &Entry[T]{
		Section:     section,
		Key:         key,
		Description: desc,
		def:         def,
		value:       def,
		constraints: constraints,
	}
	if node, ok := f.raw[section][key]; ok {
		var v T
		if err := node.Decode(&v); err != nil {
			f.logger.Warn().
				Err(err).
				Str("section", section).
				Str("key", key).
				Msg("Unreadable config value, using default")
		} else {
			e.value = v
		}
	}

	if !slices.Contains(f.sections, section) {
		f.sections = append(f.sections, section)
	}
	f.entries = append(f.entries, e)
	return e, nil
}

// Validate resets every entry whose value violates its constraints to the
// default. It returns an error describing the entries that were reset.
func (f *File) Validate() error {
	f.mu.Lock()
	entries := slices.Clone(f.entries)
	f.mu.Unlock()

	var errs []error
	for _, b := range entries {
		if err := b.validate(); err != nil {
			f.logger.Warn().
				Err(err).
				Str("section", b.section()).
				Str("key", b.key()).
				Msg("Invalid config value, resetting to default")
			errs = append(errs, fmt.Errorf("%s.%s: %w", b.section(), b.key(), err))
		}
	}
	return errors.Join(errs...)
}

// Save writes the file. Values that were read but never bound are kept.
func (f *File) Save() error {
	doc, err := f.document()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (f *File) document() (*yaml.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	root := &yaml.Node{Kind: yaml.MappingNode}
	sections := slices.Clone(f.sections)
	for _, s := range sortedKeys(f.raw) {
		if !slices.Contains(sections, s) {
			sections = append(sections, s)
		}
	}

	for _, s := range sections {
		body := &yaml.Node{Kind: yaml.MappingNode}
		bound := map[string]bool{}
		for _, b := range f.entries {
			if b.section() != s {
				continue
			}
			value, err := b.encode()
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s.%s: %w", s, b.key(), err)
			}
			key := &yaml.Node{Kind: yaml.ScalarNode, Value: b.key(), HeadComment: b.description()}
			body.Content = append(body.Content, key, value)
			bound[b.key()] = true
		}
		for _, k := range sortedKeys(f.raw[s]) {
			if bound[k] {
				continue
			}
			value := f.raw[s][k]
			body.Content = append(body.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &value)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: s}, body)
	}
	return root, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
