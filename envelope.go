package soapd

import (
	"mime"
	"net/http"
	"strings"
)

// Header is the wire header map handed to capability interfaces
// (spec.md §6); net/http's representation is reused as-is since it already
// models the case-insensitive, multi-valued semantics spec.md §4.2 needs.
type Header = http.Header

// Credentials is the parsed result of an Authorization header
// (spec.md §4.4).
type Credentials struct {
	Scheme   string // "Basic" or "Digest"
	Username string
	Password string // only populated for Basic
	Digest   DigestParams
}

// DigestParams carries the parsed fields of an RFC 2617 Digest
// Authorization header, qop=auth only (spec.md §4.4).
type DigestParams struct {
	Realm, Nonce, URI, Response, CNonce, NC, QOP string
}

// RequestContext is the per in-flight call state of spec.md §3: the
// requested SOAP action, raw HTTP headers, resolved path, response headers
// and an optional response namespace override. It is mutable only by the
// handler and immutable once the response has been written.
type RequestContext struct {
	SoapAction      []byte
	Headers         Header
	Path            string
	Version         Version
	ResponseHeaders []HeaderItem
	ResponseNS      string // overrides the server's configured message namespace
	Identity        Credentials
	cancelled       chan struct{}
}

// Cancelled returns the context's cancellation channel. The dispatcher
// never creates or closes it, so for requests it serves the result is nil
// and never becomes ready: a client closing its socket during handling is
// not reported to the handler.
func (c *RequestContext) Cancelled() <-chan struct{} { return c.cancelled }

// AddResponseHeader appends a header the dispatcher will copy onto the
// final HTTP response.
func (c *RequestContext) AddResponseHeader(name, value string) {
	c.ResponseHeaders = append(c.ResponseHeaders, HeaderItem{Name: name, Value: value})
}

// NewFault builds a *Message carrying the given fault, ready to return
// from an ObjectHandler.
func NewFault(code, msg string) *Message {
	return &Message{IsFault: true, Fault: &Fault{Code: code, String: msg}}
}

// contentTypeFor returns the Content-Type header value for a response under
// the given SOAP version (spec.md §6).
func contentTypeFor(v Version) string {
	if v == Version12 {
		return ContentType12
	}
	return ContentType11
}

// soapActionFromRequest extracts the SOAP action per spec.md §6: the
// SoapAction header for 1.1, or the Content-Type "action" parameter for
// 1.2.
func soapActionFromRequest(h Header) (string, Version) {
	if sa := h.Get("SoapAction"); sa != "" {
		return strings.Trim(sa, `"`), Version11
	}
	ct := h.Get("Content-Type")
	_, params, err := mime.ParseMediaType(ct)
	if err == nil {
		if action, ok := params["action"]; ok {
			return strings.Trim(action, `"`), Version12
		}
	}
	if strings.HasPrefix(ct, "application/soap+xml") {
		return "", Version12
	}
	return "", Version11
}

// isSoapContentType reports whether ct names an XML SOAP payload per
// spec.md §4.3 routing rule 1.
func isSoapContentType(ct string) bool {
	return strings.HasPrefix(ct, "text/xml") || strings.HasPrefix(ct, "application/soap+xml")
}
