// Package config provides 12-factor configuration management for modhost.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Packages: data directory, remote index URL, device info, timeouts
//   - HTTP: rate limit and version-query retries for the index client
//   - Sandbox: script execution timeout and console bridging
//   - Index: reference index server listen address, envelope directory, rate limit and CORS
//   - Logging: log level and output format
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("installing into %s\n", cfg.Packages.DataDir)
//
// Environment Variables:
//   - MODHOST_DATA_DIR, MODHOST_SERVER_URL, MODHOST_DEVICE_INFO, MODHOST_ARCHIVE_EXT
//   - MODHOST_CONN_TIMEOUT, MODHOST_RETRY_INTERVAL, MODHOST_UPDATE_PERIOD, MODHOST_MAX_REDIRECTS
//   - MODHOST_HTTP_RPS, MODHOST_VERSION_RETRIES, MODHOST_INSECURE_TLS
//   - MODHOST_SCRIPT_TIMEOUT, MODHOST_ENABLE_CONSOLE
//   - INDEX_HOST, INDEX_PORT, INDEX_DIR, INDEX_DEVICE_INFO
//   - INDEX_RATE_LIMIT, INDEX_BURST, INDEX_CORS_ORIGINS
//   - LOG_LEVEL, LOG_DEV
package config
