// Package control wires the payment reliability service together and owns
// its lifecycle.
package control

import (
	"github.com/vietddude/payguard/internal/core/config"
)

// Config holds the application configuration plus process-level switches.
type Config struct {
	config.AppConfig

	// Migrate applies pending schema migrations on startup.
	Migrate bool
	// Workers runs the retry driver and session pruner in this process.
	Workers bool
	// Serve starts the HTTP listener.
	Serve bool
}

// closer is a resource released on Stop.
type closer struct {
	name  string
	close func() error
}
