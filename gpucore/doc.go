// Package gpucore defines the GPU backend abstraction cardkit allocates
// against: opaque resource IDs, an Adapter interface for buffer/texture
// creation and upload, and a Headless in-memory adapter for tests and
// offline tooling.
//
// cardkit never creates a GPU device; the host application owns device and
// queue lifecycle and hands cardkit an Adapter. backend/native implements
// Adapter over gogpu/wgpu for real GPU execution.
package gpucore
