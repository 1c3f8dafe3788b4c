// Package app provides application initialization and lifecycle
// management for the entitlement engine. It is the composition root:
// every component is constructed here with its dependencies passed in
// explicitly, wired together at startup.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//  1. Load configuration from environment and the optional YAML file
//  2. Initialize logging and observability
//  3. Derive the machine-bound key set
//  4. Construct the capability engine (validator, issuer, store, tamper
//     detector, audit logger, entitlement service)
//  5. Construct activation, admin, and plugin services on top
//  6. Set up HTTP handlers and middleware on the loopback server
//  7. Set up graceful shutdown handlers
//
// # Graceful Shutdown
//
// The package handles SIGINT and SIGTERM signals to ensure active
// requests complete, telemetry providers flush, and the log file is
// closed before exit.
package app
