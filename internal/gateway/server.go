package gateway

import (
	"context"
	"crypto/tls"
	"net/http"
)

// Server is the HTTP/HTTPS server exposing the open API.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a new HTTP server bound to addr, serving handler.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
	}
}

// SetTLSConfig installs a custom TLS config (used for certificate
// hot-reload via tlsroots.Watcher); call before ListenAndServeTLS.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.httpServer.TLSConfig = cfg
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// ListenAndServeTLS starts the HTTPS server.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	return s.httpServer.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
