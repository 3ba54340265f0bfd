package config

import (
	"os"
	"strings"
)

// EnvSource maps PREFIX_A_B=v to key "a.b"
type EnvSource struct {
	prefix   string
	priority int
	bindings map[string]string // explicit key -> env name, e.g. "event.pool_size" -> "EVENT_POOL_SIZE"
}

// NewEnvSource creates an environment variable source
func NewEnvSource(prefix string, priority int) *EnvSource {
	return &EnvSource{
		prefix:   prefix,
		priority: priority,
		bindings: make(map[string]string),
	}
}

// AddBinding pins a key to an env name; keys with underscores need this
// because the prefix scan turns every "_" into a "."
func (s *EnvSource) AddBinding(key, envKey string) {
	s.bindings[key] = envKey
}

// Name of the source
func (s *EnvSource) Name() string {
	return "env:" + s.prefix
}

// Priority of the source
func (s *EnvSource) Priority() int {
	return s.priority
}

// Load scans the environment
func (s *EnvSource) Load() (map[string]any, error) {
	result := make(map[string]any)

	if len(s.bindings) > 0 {
		for key, envKey := range s.bindings {
			fullEnvKey := envKey
			if s.prefix != "" && !strings.HasPrefix(envKey, s.prefix+"_") {
				fullEnvKey = s.prefix + "_" + envKey
			}
			if value, ok := os.LookupEnv(fullEnvKey); ok {
				result[key] = value
			}
		}
		return result, nil
	}

	if s.prefix == "" {
		return result, nil
	}

	prefix := s.prefix + "_"
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		configKey := strings.ToLower(strings.TrimPrefix(key, prefix))
		result[strings.ReplaceAll(configKey, "_", ".")] = value
	}

	return result, nil
}
