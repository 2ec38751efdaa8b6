/*
Package monitoring provides Prometheus metrics for package acquisition.

# Overview

Metrics cover the whole install path: downloads (outcome, bytes, latency),
envelope installs, rollbacks of failed resolution attempts, version-check
cycles and evictions, module loads, and requests served by the reference
index server.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	// Add middleware to the index server router
	router.Use(monitoring.Middleware(metrics))

	metrics.RecordDownload(monitoring.OutcomeSuccess, n, elapsed)

A nil *Metrics is accepted everywhere and records nothing, so components
can be constructed without metrics in tests.

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
