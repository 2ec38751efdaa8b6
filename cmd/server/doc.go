// Package main runs the reference package index server.
//
// The server publishes every <name>.crx envelope found in the index
// directory:
//
//	GET /getModule/<device>/<name>.crx     envelope download
//	GET /getVersions/<device>/<a>/<b>/...  {"versionList": [...]}
//	GET /packages                          published packages
//	GET /health                            liveness
//	GET /metrics                           Prometheus metrics
//
// Configuration:
//   - Environment variables (INDEX_*, LOG_*)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Serve ./index on port 8000
//	./server -dir ./index
//
//	# Development mode (colored logs, debug level)
//	./server -dir ./index -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
