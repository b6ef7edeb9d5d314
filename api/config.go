// Package api provides the HTTP ingest server that lets a simulation drive
// a semlog session over the network.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string
}
