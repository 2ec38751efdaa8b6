/*
Package tracing correlates one package resolution attempt across the
package manager and the index server.

The manager starts a trace per LoadPackage attempt. Index requests made on
its behalf carry the ID in the X-Trace-ID header, and the index server logs
each request with the ID it received, or a new one.

# Usage

	ctx, id := tracing.Ensure(ctx)

	// Outgoing requests
	client.OnBeforeRequest(tracing.InjectRequest)

	// Index server
	router.Use(tracing.HTTPMiddleware(logger))
*/
package tracing
