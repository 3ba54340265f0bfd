// Package component defines lifecycle interfaces.
// It is the lowest layer and imports no other package of this module.
package component

import "context"

// Component lifecycle: Init → Start → Stop
type Component interface {
	// Name is the unique component name
	Name() string

	// DependsOn lists components that must be initialized first.
	// Prefix a name with "optional:" when its absence is tolerated.
	DependsOn() []string

	// Init reads configuration and creates resources without serving anything
	Init(ctx context.Context, loader ConfigLoader) error

	// Start begins serving
	Start(ctx context.Context) error

	// Stop releases resources; must be safe to call more than once
	Stop(ctx context.Context) error
}

// HealthChecker is optionally implemented by components
type HealthChecker interface {
	// Check returns nil when healthy
	Check(ctx context.Context) error

	// Name of the checked item
	Name() string
}
