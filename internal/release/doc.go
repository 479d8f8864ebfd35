// Package release resolves the current appliance OS version for each release
// channel and derives the artifact descriptor (download URL and cache path)
// for a channel and version.
//
// Channel metadata is a small JSON document published per channel. Only the
// "ova" field is read, and its value must look like a version string before
// it is used anywhere. Nothing fetched here is ever executed.
//
// The stable channel is mandatory: ResolveAll fails when it cannot be
// resolved. Beta and dev are optional and are simply reported as unavailable.
package release
