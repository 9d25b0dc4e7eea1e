// Package httpserver builds the process's HTTP server. Per-request deadlines
// come from the router's timeout middleware; the timeouts here only bound
// slow or idle connections.
package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with this project's defaults. Shutdown is the
// caller's job, main drives it from signal context.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
