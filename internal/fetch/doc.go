// Package fetch downloads package envelopes and version lists from the
// remote package index.
//
// Downloads stream to the temp root with an idle timeout, follow redirects
// manually up to a bound, insist on a declared Content-Length and hand the
// finished file to an Installer. Version queries ask for many packages at
// once and are retried on transient failures; downloads never are.
package fetch
