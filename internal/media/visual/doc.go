// Package visual measures costume and backdrop images.
//
// Raster formats (PNG, JPEG, GIF) are measured with the registered image
// decoders; SVG documents are measured from the root element's width/height
// attributes, falling back to the viewBox.
package visual
