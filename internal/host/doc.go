/*
Package host runs scripts against the confined package tree.

# Overview

A Runtime owns one goja VM and exposes two entry points to scripts:

  - require(name): CommonJS loading through the modules package. Bare
    package names missing from disk are installed on demand.
  - loadPackage(name, onSuccess, onFailure): asynchronous acquisition of a
    package and its dependencies. Exactly one callback runs, on the VM's
    own goroutine, before Run returns.

console.log/info/warn/error are forwarded to the logger under the "script"
name and captured in the Result.

# Limits

Run interrupts the VM when the configured timeout elapses or the caller's
context is cancelled. Pending loadPackage calls share the same deadline.

# Usage Example

	rt := host.New(resolver, mgr, host.DefaultConfig(), logger)
	defer rt.Close()

	result, err := rt.Run(ctx, "require('add').add(1, 2)")
*/
package host
