// Package timeouts holds the timeout values shared by the server and the client.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Request is the default per-request timeout of the SDK client.
const Request = 10 * time.Second
