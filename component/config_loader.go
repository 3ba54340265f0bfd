package component

// ConfigLoader is the read side of configuration that components depend on,
// so they do not import a concrete loader
type ConfigLoader interface {
	// Get returns a raw value, e.g. Get("event.pool_size")
	Get(key string) any

	// Unmarshal decodes the subtree at key into v
	Unmarshal(key string, v any) error

	GetString(key string) string

	GetInt(key string) int

	GetBool(key string) bool

	IsSet(key string) bool
}
