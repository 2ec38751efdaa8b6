// Package logging provides structured logging using uber/zap.
//
// Two modes are offered:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Every package manager component receives a *Logger and logs with
// structured fields, for example:
//
//	logger := logging.NewDefault()
//	logger.Info("package installed", zap.String("package", "add"))
//	logger.Error("download failed", zap.String("package", "add"), zap.Error(err))
//
// Script console output (console.log, console.warn, ...) is bridged into the
// same logger under the "script" name.
package logging
