// Package application provides application initialization and dependency wiring.
// It builds the metrics registry, result cache, fee service, handlers, routers
// and HTTP server, keeping the main package focused on CLI parsing and
// orchestration.
package application
