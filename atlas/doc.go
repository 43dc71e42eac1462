// Package atlas packs the texture content of many cards into one shared
// GPU texture. Cards hold opaque handles, link CPU pixel buffers to them,
// and never learn a position until packing runs; any repack that changes
// the layout invalidates every previously assigned position.
//
// Packing is a deterministic decreasing-height shelf algorithm: identical
// linkage input (same set, same insertion order) always yields identical
// positions, which makes layouts cacheable and testable.
package atlas
