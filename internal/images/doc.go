// Package images materializes a post's eligible images on local disk for the
// platform clients: a content-addressed download cache plus an optional
// alt-text describer for images that arrive without one.
package images
