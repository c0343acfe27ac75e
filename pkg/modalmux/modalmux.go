// Package modalmux provides the public API for embedding the multimodal
// chat service. This is the stable surface for external consumers.
package modalmux

import (
	"github.com/modalmux/modalmux/internal/runtime"
)

// App is the assembled chat service.
// See internal/runtime.App for full documentation.
type App = runtime.App

// Option is a functional option for configuring an App.
type Option = runtime.Option

// New creates a new App with the given options.
// Example:
//
//	app, err := modalmux.New(
//	    modalmux.WithFileConfig("config.yaml"),
//	    modalmux.WithSQLite("./data/conversations.db"),
//	)
var New = runtime.New

var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig

	// Storage
	WithMemoryStore = runtime.WithMemoryStore
	WithSQLite      = runtime.WithSQLite
	WithStore       = runtime.WithStore

	// Capability providers
	WithTextProvider     = runtime.WithTextProvider
	WithVisionProvider   = runtime.WithVisionProvider
	WithImageGenProvider = runtime.WithImageGenProvider

	// Advanced options
	WithLogger = runtime.WithLogger
)
