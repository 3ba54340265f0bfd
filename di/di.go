// Package di wires the core services into a samber/do injector.
package di

import "github.com/samber/do/v2"

// Injector type alias
type Injector = do.Injector

// RootScope type alias
type RootScope = do.RootScope

// New creates a root injector
var New = do.New

// NewWithOpts creates a root injector with options
var NewWithOpts = do.NewWithOpts

// Generic helpers cannot be re-exported as vars; call them through do:
//
//	injector := di.New()
//	di.RegisterCoreProviders(injector, di.ConfigOptions{ConfigPath: "./configs"})
//	bus := do.MustInvoke[*event.Bus](injector)
