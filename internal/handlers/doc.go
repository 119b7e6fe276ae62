// Package handlers provides the loopback JSON API over the capture library.
//
// It includes handlers for:
//   - Listing, searching and fetching captures
//   - Thumbnails
//   - Pinning, notes, tags and deletion
//   - Library stats and app/tag histograms
//   - On-demand cleanup
//   - Health, version and Prometheus metrics
package handlers
