// Package assets renders and stores the on-disk image tiers of the capture
// library: JPEG thumbnails and previews under thumbs/ and previews/, and
// caller-supplied originals under originals/.
//
// Paths handed to and returned from a Store are relative to its root so the
// metadata store never records absolute locations.
package assets
