// Package text turns strings into positioned card glyphs.
//
// Shaping runs through go-text/typesetting's HarfBuzz port, so ligatures,
// kerning and complex scripts come out right. Rasterization stays outside
// this module: a Provider supplies per-glyph metrics and atlas UV windows
// produced by an external font pipeline, and Layout combines shaping
// output with those metrics into scene.Glyph records ready for the
// spatial index.
package text
