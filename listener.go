package soapd

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// controlMsg is a message on the suspend/resume control channel read by the
// accept loop, replacing the source library's signal+semaphore cross-thread
// pattern per spec.md §9.
type controlMsg struct {
	suspend bool
	resume  bool
	done    chan error
}

// listenerState holds the live accept-loop machinery for a Server: the
// socket, the admission counter, and the control channel suspend/resume is
// signaled through (spec.md §4.7).
type listenerState struct {
	mu            sync.Mutex
	listener      net.Listener
	port          string
	suspendedPort string
	suspended     bool

	live int64

	control chan controlMsg
	closing chan struct{} // closed by Server.Close to tell acceptLoop to exit
	stopped chan struct{} // closed by acceptLoop once it has exited
}

// ErrResumeBind is returned by resume() when the saved port is no longer
// available (spec.md §4.7).
type ErrResumeBind struct{ Port string }

func (e *ErrResumeBind) Error() string { return "soapd: cannot rebind to port " + e.Port }

// listen opens the TCP (optionally TLS) listener on addr and starts the
// accept loop, dispatching each accepted socket to admit.
func (s *Server) listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &TransportError{Op: "listen", Err: err}
	}
	if s.TLSConfig != nil {
		ln = tls.NewListener(ln, s.TLSConfig)
	}

	s.state.mu.Lock()
	s.state.listener = ln
	s.state.port = ln.Addr().String()
	s.state.control = make(chan controlMsg)
	s.state.closing = make(chan struct{})
	s.state.stopped = make(chan struct{})
	s.state.mu.Unlock()

	go s.acceptLoop()
	return nil
}

// acceptLoop is the single goroutine spec.md §4.6 calls "the listener's own
// thread"; it owns the listener socket and is the only place suspend/resume
// state transitions happen, so they're atomic with respect to admission
// (spec.md §4.7 "suspend/resume must be safe under concurrent request
// load").
func (s *Server) acceptLoop() {
	defer close(s.state.stopped)
	for {
		s.state.mu.Lock()
		ln := s.state.listener
		s.state.mu.Unlock()
		if ln == nil {
			select {
			case msg := <-s.state.control:
				s.handleControl(msg)
				continue
			case <-s.state.closing:
				return
			}
		}

		type acceptResult struct {
			conn net.Conn
			err  error
		}
		accepted := make(chan acceptResult, 1)
		go func() {
			conn, err := ln.Accept()
			accepted <- acceptResult{conn, err}
		}()

		select {
		case msg := <-s.state.control:
			s.handleControl(msg)
			// If suspend closed the listener, the pending Accept above
			// will itself return an error and be drained harmlessly by
			// its own goroutine; we don't wait on it.
			continue
		case <-s.state.closing:
			return
		case res := <-accepted:
			if res.err != nil {
				select {
				case <-s.state.closing:
					return
				default:
				}
				continue
			}
			s.admit(res.conn)
		}
	}
}

func (s *Server) handleControl(msg controlMsg) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	switch {
	case msg.suspend:
		if s.state.listener != nil {
			s.state.suspendedPort = s.state.port
			_ = s.state.listener.Close()
			s.state.listener = nil
			s.state.suspended = true
		}
		msg.done <- nil
	case msg.resume:
		if !s.state.suspended {
			s.log(logWarn, "", "", "resume() called without a preceding suspend(), ignoring")
			msg.done <- nil
			return
		}
		ln, err := net.Listen("tcp", s.state.suspendedPort)
		if err != nil {
			msg.done <- &ErrResumeBind{Port: s.state.suspendedPort}
			return
		}
		if s.TLSConfig != nil {
			ln = tls.NewListener(ln, s.TLSConfig)
		}
		s.state.listener = ln
		s.state.port = ln.Addr().String()
		s.state.suspended = false
		msg.done <- nil
	}
}

// Suspend stops accepting new connections and records the listening port
// for a symmetric Resume (spec.md §4.7). Existing connections are left
// alone.
func (s *Server) Suspend() error {
	done := make(chan error, 1)
	s.state.control <- controlMsg{suspend: true, done: done}
	return <-done
}

// Resume re-opens the listener on the port recorded by Suspend. Calling
// Resume without a preceding Suspend logs a warning and is a no-op
// (spec.md §4.7).
func (s *Server) Resume() error {
	done := make(chan error, 1)
	s.state.control <- controlMsg{resume: true, done: done}
	return <-done
}

// Port returns the current listening address, or the empty string if not
// listening.
func (s *Server) Port() string {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.port
}

// admit applies the connection-budget check of spec.md §4.6/§8.4 and, if
// admitted, dispatches to the worker pool or to a dedicated goroutine
// (the Go-idiomatic reading of "the listener's own thread" for
// handler-per-connection, since goroutines — not OS threads — are the unit
// of concurrency here).
func (s *Server) admit(conn net.Conn) {
	live := atomic.AddInt64(&s.state.live, 1)
	if s.MaxConnections > 0 && live > int64(s.MaxConnections) {
		atomic.AddInt64(&s.state.live, -1)
		s.log(logError, "", "", (&AdmissionError{Live: int(live), Ceiling: s.MaxConnections}).Error())
		conn.Close()
		return
	}

	if s.pool != nil {
		s.pool.Assign(conn)
		return
	}
	go s.dispatchAccepted(conn)
}

// Close stops the accept loop and, if a worker pool is configured, drains
// it (spec.md §4.6 "orderly" shutdown).
func (s *Server) Close() error {
	s.state.mu.Lock()
	ln := s.state.listener
	closing := s.state.closing
	stopped := s.state.stopped
	s.state.listener = nil
	s.state.mu.Unlock()
	if closing != nil {
		select {
		case <-closing:
		default:
			close(closing)
		}
	}
	if ln != nil {
		ln.Close()
	}
	if stopped != nil {
		<-stopped
	}
	if s.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.pool.Shutdown(ctx)
	}
	return nil
}
