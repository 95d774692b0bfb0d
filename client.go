package soapd

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

// ClientDialTimeout bounds the outbound TCP dial (spec.md §6 "Client").
var ClientDialTimeout = 30 * time.Second

// UserAgent is sent on every outbound call.
var UserAgent = "soapd/0.1"

// BasicAuth carries static credentials for a Client; Digest challenges are
// answered automatically using the same Login/Password (spec.md §4.4).
type BasicAuth struct {
	Login    string
	Password string
}

// Client is a SOAP 1.1/1.2 caller built on net/http, the idiomatic choice
// for an outbound client even though Server owns its socket layer directly.
//
// Grounded on foomo/soap's Client (transport injection, dial timeout,
// multipart-response unwrapping, fault-to-error translation), generalized
// from a hardcoded SOAP 1.1 envelope to both versions and from
// Basic-only to Basic+Digest.
type Client struct {
	URL              string
	Version          Version
	Use              Use
	MessageNamespace string
	Auth             *BasicAuth
	Transport        http.RoundTripper
	Logger           *Logger
}

// NewClient constructs a Client. tr may be nil, in which case a transport
// dialing with ClientDialTimeout is used.
func NewClient(url string, version Version, auth *BasicAuth, tr http.RoundTripper) *Client {
	return &Client{URL: url, Version: version, Auth: auth, Transport: tr, Logger: NewDiscardLogger()}
}

func dialTimeout(network, addr string) (net.Conn, error) {
	return net.DialTimeout(network, addr, ClientDialTimeout)
}

func (c *Client) httpClient() *http.Client {
	tr := c.Transport
	if tr == nil {
		tr = &http.Transport{Dial: dialTimeout}
	}
	return &http.Client{Transport: tr}
}

// Call invokes soapAction with req and decodes the response method into a
// *Message. A returned soap:Fault surfaces as a *Fault error.
func (c *Client) Call(soapAction string, req *Message) (*Message, error) {
	return c.call(soapAction, req, nil)
}

// call performs one round trip, retrying exactly once with a computed
// Digest response if the server challenges with 401 (spec.md §4.4).
func (c *Client) call(soapAction string, req *Message, digest *DigestParams) (*Message, error) {
	xmlBytes, err := EncodeEnvelope(req, EncodeOptions{Version: c.Version, Use: c.Use, MessageNamespace: c.MessageNamespace})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest("POST", c.URL, bytes.NewReader(xmlBytes))
	if err != nil {
		return nil, err
	}
	httpReq.Close = true
	httpReq.Header.Set("User-Agent", UserAgent)
	httpReq.Header.Set("Content-Type", contentTypeFor(c.Version))
	if soapAction != "" {
		if c.Version == Version11 {
			httpReq.Header.Set("SoapAction", `"`+soapAction+`"`)
		} else {
			httpReq.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s"`, soapAction))
		}
	}

	switch {
	case digest != nil && c.Auth != nil:
		httpReq.Header.Set("Authorization", digestAuthorizationHeader(c.Auth.Login, *digest))
	case c.Auth != nil:
		httpReq.SetBasicAuth(c.Auth.Login, c.Auth.Password)
	}

	c.Logger.Slog().Info("soap call", "url", c.URL, "action", soapAction)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized && digest == nil && c.Auth != nil {
		if challenge := firstDigestChallenge(httpResp.Header.Values("Www-Authenticate")); challenge != "" {
			if params, ok := buildDigestResponse(challenge, httpReq.URL.RequestURI(), "POST", c.Auth.Login, c.Auth.Password); ok {
				return c.call(soapAction, req, &params)
			}
		}
		return nil, errors.New("soap: server returned 401 Unauthorized")
	}

	mediaType, params, parseErr := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if parseErr != nil {
		mediaType = ""
	}

	var raw []byte
	if strings.HasPrefix(mediaType, "multipart/") {
		raw, err = extractSoapPart(httpResp.Body, params["boundary"])
		if err != nil {
			return nil, err
		}
	} else {
		raw, err = io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			// A bare status with no body is a valid response for
			// fire-and-forget calls.
			return nil, nil
		}
	}

	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if decoded.Fault != nil {
		return nil, decoded.Fault
	}
	return &Message{Value: decoded.Method}, nil
}

// extractSoapPart scans a multipart response (e.g. MTOM/attachment
// bindings) for the first part that looks like a SOAP envelope.
func extractSoapPart(body io.Reader, boundary string) ([]byte, error) {
	mr := multipart.NewReader(body, boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil, errors.New("soap: multipart response contained no SOAP part")
		}
		if err != nil {
			return nil, err
		}
		slurp, err := io.ReadAll(p)
		if err != nil {
			return nil, err
		}
		if looksLikeSoap(slurp) {
			return slurp, nil
		}
	}
}

func looksLikeSoap(b []byte) bool {
	s := strings.TrimSpace(string(b))
	return strings.HasPrefix(s, "<soap") || strings.HasPrefix(s, "<SOAP") || strings.HasPrefix(s, "<?xml")
}

// firstDigestChallenge picks the Digest scheme out of one or more
// WWW-Authenticate header values (a server may offer Basic and Digest
// together, per wwwAuthenticateHeader).
func firstDigestChallenge(values []string) string {
	for _, v := range values {
		if strings.HasPrefix(v, "Digest ") {
			return strings.TrimPrefix(v, "Digest ")
		}
	}
	return ""
}

// buildDigestResponse computes an RFC 2617 qop=auth response against a
// server challenge.
func buildDigestResponse(challenge, uri, method, username, password string) (DigestParams, bool) {
	fields := parseDigestParams(challenge)
	realm, nonce, qop := fields["realm"], fields["nonce"], fields["qop"]
	if nonce == "" {
		return DigestParams{}, false
	}
	if qop == "" {
		qop = "auth"
	}
	cnonce := clientNonce()
	nc := "00000001"
	ha1 := DigestHA1(username, realm, password)
	ha2 := md5Hex(method + ":" + uri)
	response := md5Hex(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
	return DigestParams{Realm: realm, Nonce: nonce, URI: uri, Response: response, CNonce: cnonce, NC: nc, QOP: qop}, true
}

func digestAuthorizationHeader(username string, d DigestParams) string {
	return fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", qop=%s, nc=%s, cnonce="%s"`,
		username, d.Realm, d.Nonce, d.URI, d.Response, d.QOP, d.NC, d.CNonce,
	)
}

// clientNonce returns a fresh random cnonce for one Digest exchange.
func clientNonce() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
