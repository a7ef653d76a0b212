// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding, and query parameter parsing, plus the middleware
// shared by the public search API and the health endpoints.
package httputil
