// Package alloc implements the CPU-side allocators behind cardkit's shared
// GPU regions: a two-phase (reserve/commit) bump allocator over one linear
// byte region, and a fixed size-class pool for compact metadata records.
//
// Both allocators mirror their region in CPU memory and upload dirty bytes
// through a gpucore.Adapter on Flush. They are frame-thread confined; the
// engine guarantees a single writer.
package alloc
