package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Loader merges several sources and exposes the result through viper
type Loader struct {
	sources     []ConfigSource
	merged      map[string]any
	v           *viper.Viper
	loadedFiles []string
}

// NewLoader creates an empty loader
func NewLoader() *Loader {
	return &Loader{
		merged: make(map[string]any),
		v:      viper.New(),
	}
}

// AddSource adds a configuration source
func (l *Loader) AddSource(source ConfigSource) {
	l.sources = append(l.sources, source)
}

// Load merges all sources from low to high priority
func (l *Loader) Load() error {
	sort.SliceStable(l.sources, func(i, j int) bool {
		return l.sources[i].Priority() < l.sources[j].Priority()
	})

	l.merged = make(map[string]any)
	l.loadedFiles = l.loadedFiles[:0]
	for _, source := range l.sources {
		data, err := source.Load()
		if err != nil {
			return fmt.Errorf("load source %s: %w", source.Name(), err)
		}
		if fs, ok := source.(*FileSource); ok {
			l.loadedFiles = append(l.loadedFiles, fs.path)
		}
		for key, value := range data {
			l.merged[key] = value
		}
	}

	l.v = viper.New()
	for key, value := range unflattenMap(l.merged) {
		l.v.Set(key, value)
	}
	return nil
}

// unflattenMap turns {"event.pool_size": 8} back into nested maps
func unflattenMap(flat map[string]any) map[string]any {
	result := make(map[string]any)

	for key, value := range flat {
		parts := strings.Split(key, ".")
		current := result
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = value
	}

	return result
}

// Unmarshal decodes key into v (component.ConfigLoader)
func (l *Loader) Unmarshal(key string, v any) error {
	if key == "" {
		return l.v.Unmarshal(v)
	}
	if !l.v.IsSet(key) {
		return fmt.Errorf("config key %q not set", key)
	}
	return l.v.UnmarshalKey(key, v)
}

// Get returns a raw value
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// GetInt returns an int value
func (l *Loader) GetInt(key string) int {
	return l.v.GetInt(key)
}

// GetBool returns a bool value
func (l *Loader) GetBool(key string) bool {
	return l.v.GetBool(key)
}

// IsSet reports whether key has a value
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// GetLoadedFiles lists file sources consulted by the last Load
func (l *Loader) GetLoadedFiles() []string {
	return l.loadedFiles
}

// GetViper exposes the underlying viper instance
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}
