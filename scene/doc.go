// Package scene holds the card content model: SDF primitives, positioned
// text glyphs, their GPU wire encodings, and the spatial grid that lets the
// fragment shader cull both per pixel.
//
// Everything here is CPU-side staging. The IndexBuilder accumulates
// primitives and glyphs, computes scene bounds and a variable-length
// uniform grid, and hands the packed words to the resource coordinator
// for upload.
package scene
