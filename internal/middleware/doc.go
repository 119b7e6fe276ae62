// Package middleware provides HTTP middleware for the capture library API.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics labelled by route template
//   - A loopback guard that refuses requests from other hosts
package middleware
