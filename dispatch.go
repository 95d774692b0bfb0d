package soapd

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/foomo/soapd/internal/frame"
)

// The capability interfaces of spec.md §6 and §9 ("Multiple interface
// inheritance on the service object" — modeled here as independent
// capabilities queried with a type assertion at dispatch time rather than
// a single fat interface).

// ObjectHandler answers SOAP method invocations.
type ObjectHandler interface {
	ProcessRequest(ctx *RequestContext, req *Message) (*Message, error)
}

// FileRequestHandler answers GET requests for files the service object
// publishes.
type FileRequestHandler interface {
	ProcessFileRequest(path string) (io.ReadCloser, string, error)
}

// ResponseHeaderPublisher adds a static list of headers to every response.
type ResponseHeaderPublisher interface {
	AdditionalHTTPResponseHeaderItems() []HeaderItem
}

// AuthValidator gates SOAP, file, and custom-verb routes uniformly.
type AuthValidator interface {
	ValidateAuthentication(creds Credentials, path string) bool
}

// RawXMLHandler streams the request body directly, bypassing envelope
// decoding, and supplies its own full HTTP response.
type RawXMLHandler interface {
	NewRequest(verb string, headers Header) bool
	ProcessXML(chunk []byte) error
	EndRequest() ([]byte, error)
}

// CustomVerbHandler answers verbs the routing table doesn't otherwise
// recognize.
type CustomVerbHandler interface {
	ProcessCustomVerbRequest(verb string, body []byte, headers Header) (handled bool, response []byte)
}

// dispatchAccepted is the pool/goroutine entry point for one accepted
// connection: it owns the connection's lifetime accounting and always
// closes the socket, mirroring foomo/soap's per-request cleanup but scoped
// to a whole TCP connection instead of one net/http round trip.
func (s *Server) dispatchAccepted(conn net.Conn) {
	defer atomic.AddInt64(&s.state.live, -1)
	defer conn.Close()
	s.handleConnection(conn)
}

// handleConnection implements the state machine of spec.md §3
// (Reading-Headers → Reading-Body → Dispatching → Writing-Response) and
// the routing table of spec.md §4.3.
func (s *Server) handleConnection(conn net.Conn) {
	sessionID := uuid.NewString()

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			s.log(logError, "", "", "TLS handshake failed for "+sessionID+": "+err.Error())
			return
		}
	}

	if s.PerRequestTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.PerRequestTimeout))
	}

	br := bufio.NewReader(conn)
	fr := frame.NewReader(br)

	reqLine, err := fr.ReadRequestLine()
	if err != nil {
		s.writeRaw(conn, 400, "Bad Request", nil, nil)
		return
	}
	headers, err := fr.ReadHeaders()
	if err != nil {
		s.writeRaw(conn, 400, "Bad Request", nil, nil)
		return
	}

	path, ok := normalizePath(reqLine.Target)
	if !ok {
		s.writeRaw(conn, 403, "Forbidden", nil, nil)
		return
	}

	svcObj := s.NewServiceObject()

	var identity Credentials
	if auth, ok := svcObj.(AuthValidator); ok {
		// Credentials are parsed on a best-effort basis and handed to the
		// validator even when absent (a zero Credentials{}), so a service
		// object can choose to allow anonymous access itself rather than
		// have the dispatcher force a header requirement it never asked
		// for (spec.md §4.4/§6 "validateAuthentication(credentials, path)
		// -> bool").
		creds, _ := parseAuthorization(headers.Get("Authorization"))
		if !auth.ValidateAuthentication(creds, path) {
			s.writeRaw(conn, 401, "Unauthorized", frameHeaderWithChallenges(s.realm()), nil)
			return
		}
		identity = creds
	}

	ct := headers.Get("Content-Type")
	switch {
	case reqLine.Method == "POST" && path == s.path() && isSoapContentType(ct):
		s.handleSOAPRoute(conn, fr, frame.Header(headers), reqLine, svcObj, path, identity, sessionID)
	case reqLine.Method == "GET":
		s.handleFileRoute(conn, path, svcObj)
	default:
		s.handleCustomVerbRoute(conn, fr, frame.Header(headers), reqLine, svcObj)
	}
}

// handleSOAPRoute implements spec.md §4.3 rule 1: raw-XML streaming when
// installed and accepting, else buffered envelope decode and SOAP
// dispatch.
func (s *Server) handleSOAPRoute(conn net.Conn, fr *frame.Reader, headers frame.Header, reqLine frame.RequestLine, svcObj any, path string, identity Credentials, sessionID string) {
	mode, length, err := frame.DetectBodyMode(headers)
	if err != nil {
		s.writeRaw(conn, 400, "Bad Request", nil, nil)
		return
	}
	body, _ := fr.Body(mode, length)

	if raw, ok := svcObj.(RawXMLHandler); ok && raw.NewRequest(reqLine.Method, Header(headers)) {
		streamErr := frame.StreamBody(body, raw.ProcessXML)
		if streamErr != nil {
			s.log(logError, reqLine.Method, "", streamErr.Error())
			return
		}
		resp, err := raw.EndRequest()
		if err != nil {
			s.log(logError, reqLine.Method, "", err.Error())
			return
		}
		conn.Write(resp)
		return
	}

	raw, err := frame.ReadBodyBuffered(body, s.bodyCeiling())
	if err != nil {
		s.writeRaw(conn, 400, "Bad Request", nil, nil)
		return
	}

	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		s.replySOAPFault(conn, decoded, NewFault(FaultClientData, err.Error()), reqLine.Method, "")
		return
	}

	if decoded.Fault != nil {
		// A fault arriving as a *request* is malformed input; treat it as
		// a client data error rather than echoing it back.
		s.replySOAPFault(conn, decoded, NewFault(FaultClientData, "request body carried a soap:Fault"), reqLine.Method, "")
		return
	}

	action, _ := soapActionFromRequest(Header(headers))
	method := decoded.Method.Name

	if !soapActionMatches(s.MessageNamespace, action, method) {
		s.replySOAPFault(conn, decoded, NewFault(FaultServerUnknownSoapAction, "SoapAction does not match method "+method), reqLine.Method, method)
		return
	}

	ctx := &RequestContext{
		SoapAction: []byte(action),
		Headers:    Header(headers),
		Path:       path,
		Version:    decoded.SoapVersion,
		Identity:   identity,
	}

	s.Logger.LogRequest(reqLine.Method, method)

	handler, ok := svcObj.(ObjectHandler)
	if !ok {
		s.replySOAPFault(conn, decoded, NewFault(FaultServerMethodNotFound, method+" not found"), reqLine.Method, method)
		return
	}

	req := &Message{Value: decoded.Method}
	resp, callErr := s.invokeWithTimeout(handler, ctx, req)
	if callErr != nil {
		var f *HandlerFault
		if errors.As(callErr, &f) {
			s.replySOAPFault(conn, decoded, &Message{IsFault: true, Fault: f.Fault}, reqLine.Method, method)
			return
		}
		var pf *Fault
		if errors.As(callErr, &pf) {
			s.replySOAPFault(conn, decoded, &Message{IsFault: true, Fault: pf}, reqLine.Method, method)
			return
		}
		var to *TimeoutError
		if errors.As(callErr, &to) {
			s.replySOAPFault(conn, decoded, NewFault(FaultServerTimeout, callErr.Error()), reqLine.Method, method)
			return
		}
		s.replySOAPFault(conn, decoded, NewFault(FaultServerInternalError, callErr.Error()), reqLine.Method, method)
		return
	}

	if resp == nil {
		resp = NewMessage(method + "Response")
	} else if resp.Name == "" {
		// spec.md §9 Open Question (b): handlers must always set a
		// response name matching <method>Response; enforce it here
		// rather than emitting an unnamed element.
		resp.Name = method + "Response"
	}

	if resp.IsFault {
		// A fault a handler returns by value, rather than as an error,
		// still needs to produce a LogFaults/LogEvery line (spec.md §4.8).
		s.Logger.LogFault(reqLine.Method, method, resp.Fault)
	}

	ns := ctx.ResponseNS
	if ns == "" {
		ns = s.MessageNamespace
	}

	s.writeSOAPMessage(conn, resp, decoded.SoapVersion, ns, svcObj, ctx.ResponseHeaders...)
}

// invokeWithTimeout runs handler.ProcessRequest, closing over
// s.PerRequestTimeout per spec.md §5. A panicking handler never reaches the
// caller as a panic: spec.md §7 makes HandlerException -> Server.InternalError
// an unconditional policy, so every invocation path — timed or not — recovers
// and turns the panic into an error.
func (s *Server) invokeWithTimeout(handler ObjectHandler, ctx *RequestContext, req *Message) (*Message, error) {
	if s.PerRequestTimeout <= 0 {
		return s.invokeRecovered(handler, ctx, req)
	}
	type result struct {
		msg *Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := s.invokeRecovered(handler, ctx, req)
		done <- result{msg, err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-time.After(s.PerRequestTimeout):
		return nil, &TimeoutError{Method: req.Name}
	}
}

// invokeRecovered calls handler.ProcessRequest, converting a panic into an
// error so it falls through handleSOAPRoute's normal fault translation into
// Server.InternalError rather than crashing the accept goroutine or pool
// worker that's running it.
func (s *Server) invokeRecovered(handler ObjectHandler, ctx *RequestContext, req *Message) (msg *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.ProcessRequest(ctx, req)
}

// soapActionMatches implements spec.md §6's "validate the SoapAction
// header; mismatch → fault Server.UnknownSoapAction": the expected action
// is the service's message namespace joined with the method name, matching
// the convention WSDL tooling generates (spec.md §8's literal Basic-call
// scenario: namespace "http://www.kdab.com/xml/MyWsdl/" + method
// "getEmployeeCountry" = the example's SoapAction). A request that omits
// the header entirely is not validated, since it is legitimately absent
// under SOAP 1.2 when the action isn't carried as a Content-Type
// parameter.
func soapActionMatches(ns, action, method string) bool {
	if action == "" {
		return true
	}
	expected := strings.TrimSuffix(ns, "/") + "/" + method
	return action == expected
}

func (s *Server) replySOAPFault(conn net.Conn, decoded *DecodeResult, fault *Message, verb, method string) {
	version := Version11
	if decoded != nil {
		version = decoded.SoapVersion
	}
	if fault.Fault != nil {
		s.Logger.LogFault(verb, method, fault.Fault)
	}
	s.writeSOAPMessage(conn, fault, version, "", nil)
}

func (s *Server) writeSOAPMessage(conn net.Conn, msg *Message, version Version, ns string, svcObj any, extra ...HeaderItem) {
	xmlBytes, err := EncodeEnvelope(msg, EncodeOptions{Version: version, Use: s.Use, MessageNamespace: ns})
	if err != nil {
		s.writeRaw(conn, 500, "Internal Server Error", nil, nil)
		return
	}
	h := frame.Header{"Content-Type": {contentTypeFor(version)}}
	addPublishedHeaders(h, svcObj)
	for _, item := range extra {
		h[item.Name] = append(h[item.Name], item.Value)
	}
	frame.WriteResponse(conn, 200, "OK", h, xmlBytes)
}

// handleFileRoute implements spec.md §4.3 rule 2: WSDL and file downloads,
// guarded by the path safety of spec.md §4.5 (already applied by the
// caller's normalizePath).
func (s *Server) handleFileRoute(conn net.Conn, path string, svcObj any) {
	if s.WSDLPath != "" && path == s.WSDLPath && s.WSDLDisk != "" {
		s.serveDiskFile(conn, s.WSDLDisk, "text/xml")
		return
	}
	fh, ok := svcObj.(FileRequestHandler)
	if !ok {
		s.writeRaw(conn, 404, "Not Found", nil, nil)
		return
	}
	rc, contentType, err := fh.ProcessFileRequest(path)
	if err != nil || rc == nil {
		s.writeRaw(conn, 404, "Not Found", nil, nil)
		return
	}
	defer rc.Close()
	if f, ok := rc.(*os.File); ok {
		if info, statErr := f.Stat(); statErr == nil && info.Mode().Perm()&0o400 == 0 {
			s.writeRaw(conn, 403, "Forbidden", nil, nil)
			return
		}
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		s.writeRaw(conn, 404, "Not Found", nil, nil)
		return
	}
	h := frame.Header{"Content-Type": {contentType}}
	addPublishedHeaders(h, svcObj)
	frame.WriteResponse(conn, 200, "OK", h, data)
}

func (s *Server) serveDiskFile(conn net.Conn, diskPath, contentType string) {
	info, err := os.Stat(diskPath)
	if err != nil {
		s.writeRaw(conn, 404, "Not Found", nil, nil)
		return
	}
	if info.Mode().Perm()&0o400 == 0 {
		s.writeRaw(conn, 403, "Forbidden", nil, nil)
		return
	}
	data, err := os.ReadFile(diskPath)
	if err != nil {
		s.writeRaw(conn, 404, "Not Found", nil, nil)
		return
	}
	frame.WriteResponse(conn, 200, "OK", frame.Header{"Content-Type": {contentType}}, data)
}

// handleCustomVerbRoute implements spec.md §4.3 rules 3-4.
func (s *Server) handleCustomVerbRoute(conn net.Conn, fr *frame.Reader, headers frame.Header, reqLine frame.RequestLine, svcObj any) {
	cv, ok := svcObj.(CustomVerbHandler)
	if !ok {
		s.writeRaw(conn, 405, "Method Not Allowed", nil, nil)
		return
	}
	mode, length, err := frame.DetectBodyMode(headers)
	if err != nil {
		s.writeRaw(conn, 400, "Bad Request", nil, nil)
		return
	}
	body, _ := fr.Body(mode, length)
	raw, _ := frame.ReadBodyBuffered(body, s.bodyCeiling())

	handled, resp := cv.ProcessCustomVerbRequest(reqLine.Method, raw, Header(headers))
	if !handled {
		s.writeRaw(conn, 405, "Method Not Allowed", nil, nil)
		return
	}
	conn.Write(resp)
}

func addPublishedHeaders(h frame.Header, svcObj any) {
	if pub, ok := svcObj.(ResponseHeaderPublisher); ok {
		for _, item := range pub.AdditionalHTTPResponseHeaderItems() {
			h[item.Name] = append(h[item.Name], item.Value)
		}
	}
}

func frameHeaderWithChallenges(realm string) frame.Header {
	h := frame.Header{}
	for _, c := range wwwAuthenticateHeader(realm, nextNonce()) {
		h["Www-Authenticate"] = append(h["Www-Authenticate"], c)
	}
	return h
}

// writeRaw writes a plain-text status response whose body, unless one is
// given, is a single line naming the status, used for
// transport/frame/routing errors that never produce a SOAP envelope
// (spec.md §7 "transport and frame errors never produce partial
// envelopes").
func (s *Server) writeRaw(conn net.Conn, status int, text string, h frame.Header, body []byte) {
	if h == nil {
		h = frame.Header{}
	}
	if body == nil {
		body = []byte(strconv.Itoa(status) + " " + text + "\n")
	}
	frame.WriteResponse(conn, status, text, h, body)
}
