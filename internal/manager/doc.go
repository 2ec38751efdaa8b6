/*
Package manager makes packages and their transitive dependencies available
on disk.

A Manager gates every load behind one version-check cycle per lifetime:
the first LoadPackage starts the check in the background and callers poll
until it finishes. The check evicts installed packages the index has a
newer version of, so the following loads fetch them again.

Resolution walks the dependency graph breadth-first. Packages already on
disk are only read for their dependencies; missing ones are downloaded
while holding the process-wide package lock. When any package in the graph
cannot be obtained, everything downloaded by that attempt is removed again
and the caller gets a DependencyUnavailable error.

	mgr := manager.New(layout, engine, manager.DefaultOptions()).
		WithLogger(logger).
		WithMetrics(metrics)
	if err := mgr.LoadPackage(ctx, "add"); err != nil {
		return err
	}
*/
package manager
