/*
Package index implements the reference package index server.

The server reads a flat directory of signed envelopes named
<package><ext> and answers the two requests package managers make:

	GET /getModule/<deviceInfo>/<name><ext>
	GET /getVersions/<deviceInfo>/<name1>/<name2>/...

Versions are read from the package.json embedded in each envelope's
archive. Packages the server does not know report a null version.
*/
package index
