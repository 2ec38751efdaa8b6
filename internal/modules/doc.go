/*
Package modules resolves and loads CommonJS-style modules from the package
installation root.

Every lookup is confined to the root: a request whose candidate base path,
or whose final file after symlink evaluation, lies outside it fails with
AccessDenied. Resolution tries, in order, the exact file, the file with
each registered extension, the "main" entry of a package.json in the
directory, and finally index plus each extension. A request ending in a
slash skips the first two steps.

The Loader keeps one Module per absolute filename. A module is cached
before it is compiled so circular requires see its partial exports, and is
evicted again if compilation fails. Requests that do not resolve on disk
fall back to registered builtins, and bare package names are handed to an
Installer once before the loader gives up.
*/
package modules
