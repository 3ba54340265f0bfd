package config

// ConfigSource is one layer of configuration (file, environment, ...)
type ConfigSource interface {
	// Name identifies the source in logs and errors
	Name() string

	// Priority decides merge order; higher wins.
	// Conventions: config file 10, environment file 20, environment variables 50.
	Priority() int

	// Load returns flattened data keyed by dotted paths such as "event.pool_size"
	Load() (map[string]any, error)
}
