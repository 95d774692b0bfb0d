package soapd

import (
	"crypto/tls"
	"time"
)

// ServiceObjectFactory creates one service object per connection
// (spec.md §3 "Server objects are created per connection by a user-supplied
// factory"). The returned value is inspected for the capability interfaces
// of spec.md §6 (ObjectHandler, FileRequestHandler, AuthValidator,
// RawXMLHandler, CustomVerbHandler) at dispatch time.
type ServiceObjectFactory func() any

// Server is the SOAP 1.1/1.2 server runtime of spec.md §1: a listening
// endpoint, an HTTP/1.1 framer, a SOAP codec, a routing dispatcher, an
// optional worker pool, and a logger.
//
// Grounded on foomo/soap's Server (path-scoped handler registration,
// SOAP-version-driven content type) generalized to own the socket layer
// itself instead of wrapping net/http.Server.
type Server struct {
	// NewServiceObject constructs one service object per connection.
	NewServiceObject ServiceObjectFactory

	// Path is the HTTP path SOAP requests must target. Defaults to "/".
	Path string

	// MessageNamespace is the service's message namespace, used to
	// qualify the top-level method element (spec.md §6).
	MessageNamespace string

	// Use selects encoded vs literal SOAP encoding (spec.md §4.1).
	Use Use

	// TLSConfig, if non-nil, upgrades accepted connections to TLS
	// (spec.md §1's "we assume a provider with the usual handshake
	// surface" — crypto/tls satisfies that role in Go).
	TLSConfig *tls.Config

	// MaxConnections is the live-connection ceiling of spec.md §4.6/§8.4.
	// Zero means unlimited.
	MaxConnections int

	// BodyCeiling bounds the buffered-delivery body size (spec.md §4.2).
	// Zero means a 10 MiB default.
	BodyCeiling int

	// PerRequestTimeout bounds handler execution (spec.md §5). Zero means
	// no timeout.
	PerRequestTimeout time.Duration

	// WSDLPath is the URL path that serves WSDLDisk's contents
	// (spec.md §3 "WSDL registration").
	WSDLPath, WSDLDisk string

	// Realm is used in WWW-Authenticate challenges (spec.md §4.4).
	Realm string

	// Logger receives structured per-request and fault lines
	// (spec.md §4.8). Defaults to a discard logger.
	Logger *Logger

	state    listenerState
	pool     *WorkerPool
	poolSize int
}

// UsePool installs a bounded worker pool of n workers (spec.md §4.6). Must
// be called before ListenAndServe; n <= 0 restores handler-per-connection
// dispatch (spec.md §4.6 "If N == 0 or no pool is set").
func (s *Server) UsePool(n int) { s.poolSize = n }

func (s *Server) bodyCeiling() int {
	if s.BodyCeiling > 0 {
		return s.BodyCeiling
	}
	return 10 << 20
}

func (s *Server) path() string {
	if s.Path == "" {
		return "/"
	}
	return s.Path
}

func (s *Server) realm() string {
	if s.Realm == "" {
		return "soapd"
	}
	return s.Realm
}

// ListenAndServe opens the listener on addr; the accept loop runs on its
// own goroutine (spec.md §5 "the listener's accept loop is itself a
// thread") and ListenAndServe returns as soon as the socket is bound.
func (s *Server) ListenAndServe(addr string) error {
	if s.Logger == nil {
		s.Logger = NewDiscardLogger()
	}
	if s.poolSize > 0 {
		s.pool = NewWorkerPool(s.poolSize, s.dispatchAccepted)
	}
	return s.listen(addr)
}
