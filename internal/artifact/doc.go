// Package artifact keeps downloaded appliance images in a local cache and
// decompresses them for import.
//
// A cache entry is a single .qcow2.xz file keyed by its basename. An entry
// is either absent or passes a full xz decode; anything else is deleted
// before it can be reused. Downloads land in a .part file next to the entry
// and are renamed into place only after they verify, so an interrupted run
// never leaves a truncated artifact behind.
package artifact
