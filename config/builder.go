package config

import (
	"os"
	"path/filepath"
)

// LoaderBuilder assembles the standard source stack
type LoaderBuilder struct {
	configPath string
	configName string
	envPrefix  string
	flags      any
}

// NewLoaderBuilder creates a builder; the base file defaults to config.yaml
func NewLoaderBuilder() *LoaderBuilder {
	return &LoaderBuilder{configName: "config.yaml"}
}

// WithConfigPath sets the configuration directory
func (b *LoaderBuilder) WithConfigPath(path string) *LoaderBuilder {
	b.configPath = path
	return b
}

// WithConfigName overrides the base file name
func (b *LoaderBuilder) WithConfigName(name string) *LoaderBuilder {
	b.configName = name
	return b
}

// WithEnvPrefix sets the environment variable prefix
func (b *LoaderBuilder) WithEnvPrefix(prefix string) *LoaderBuilder {
	b.envPrefix = prefix
	return b
}

// WithFlags adds a FlagSource on top of every other layer
func (b *LoaderBuilder) WithFlags(flags any) *LoaderBuilder {
	b.flags = flags
	return b
}

// Build creates and loads the loader:
// <path>/config.yaml (10) < <path>/<env>.yaml (20) < environment (50) < flags (100)
func (b *LoaderBuilder) Build() (*Loader, error) {
	loader := NewLoader()

	if b.configPath != "" {
		loader.AddSource(NewFileSource(filepath.Join(b.configPath, b.configName), 10))
		loader.AddSource(NewFileSource(filepath.Join(b.configPath, GetEnv()+".yaml"), 20))
	}
	if b.envPrefix != "" {
		loader.AddSource(NewEnvSource(b.envPrefix, 50))
	}
	if b.flags != nil {
		loader.AddSource(NewFlagSource(b.flags, 100))
	}

	if err := loader.Load(); err != nil {
		return nil, err
	}
	return loader, nil
}

// GetEnv returns APP_ENV, then ENV, then "dev"
func GetEnv() string {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "dev"
}
