package soapd

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCallDecodesResponse(t *testing.T) {
	c := NewClient("http://example.invalid/soap", Version11, nil, nil)
	c.MessageNamespace = "urn:test"

	respBody := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		`<EchoResponse xmlns="urn:test"><text>hi</text></EchoResponse></soap:Body></soap:Envelope>`

	c.Transport = RoundTrip(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, `"Echo"`, r.Header.Get("SoapAction"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<n0:Echo")
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": {`text/xml; charset="utf-8"`}},
			Body:       io.NopCloser(bytes.NewBufferString(respBody)),
		}, nil
	})

	req := NewMessage("Echo").WithArg(String("text", "hi"))
	resp, err := c.Call("Echo", req)
	require.NoError(t, err)
	text, ok := resp.Child("text")
	require.True(t, ok)
	assert.Equal(t, "hi", text.Text)
}

func TestClientCallTranslatesFault(t *testing.T) {
	c := NewClient("http://example.invalid/soap", Version11, nil, nil)

	faultBody := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		`<soap:Fault><faultcode>Server.MethodNotFound</faultcode><faultstring>x not found</faultstring></soap:Fault>` +
		`</soap:Body></soap:Envelope>`

	c.Transport = RoundTrip(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": {`text/xml; charset="utf-8"`}},
			Body:       io.NopCloser(bytes.NewBufferString(faultBody)),
		}, nil
	})

	_, err := c.Call("x", NewMessage("x"))
	require.Error(t, err)
	fault, ok := err.(*Fault)
	require.True(t, ok)
	assert.Equal(t, FaultServerMethodNotFound, fault.Code)
}

func TestClientCallSOAP12ActionInContentType(t *testing.T) {
	c := NewClient("http://example.invalid/soap", Version12, nil, nil)

	c.Transport = RoundTrip(func(r *http.Request) (*http.Response, error) {
		ct := r.Header.Get("Content-Type")
		assert.Contains(t, ct, "application/soap+xml")
		assert.Contains(t, ct, `action="Echo"`)
		assert.Empty(t, r.Header.Get("SoapAction"))
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": {"application/soap+xml; charset=utf-8"}},
			Body: io.NopCloser(bytes.NewBufferString(
				`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
					`<EchoResponse xmlns="urn:test"/></soap:Body></soap:Envelope>`)),
		}, nil
	})

	_, err := c.Call("Echo", NewMessage("Echo"))
	require.NoError(t, err)
}

func TestClientCallBasicAuth(t *testing.T) {
	c := NewClient("http://example.invalid/soap", Version11, &BasicAuth{Login: "kdab", Password: "pass42"}, nil)

	c.Transport = RoundTrip(func(r *http.Request) (*http.Response, error) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "kdab", user)
		assert.Equal(t, "pass42", pass)
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": {`text/xml; charset="utf-8"`}},
			Body: io.NopCloser(bytes.NewBufferString(
				`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
					`<EchoResponse xmlns="urn:test"/></soap:Body></soap:Envelope>`)),
		}, nil
	})

	_, err := c.Call("Echo", NewMessage("Echo"))
	require.NoError(t, err)
}

// TestClientCallDigestChallengeRetry exercises the 401-then-retry path: the
// first round trip returns a Digest challenge, the second carries a
// Digest Authorization header whose response the server-side helpers
// verify as valid.
func TestClientCallDigestChallengeRetry(t *testing.T) {
	c := NewClient("http://example.invalid/soap", Version11, &BasicAuth{Login: "kdab", Password: "pass42"}, nil)

	const nonce = "abc123nonce"
	attempt := 0
	c.Transport = RoundTrip(func(r *http.Request) (*http.Response, error) {
		attempt++
		if attempt == 1 {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Header: http.Header{"Www-Authenticate": {
					`Digest realm="kdab", nonce="` + nonce + `", qop="auth"`,
				}},
				Body: io.NopCloser(bytes.NewReader(nil)),
			}, nil
		}

		auth := r.Header.Get("Authorization")
		require.True(t, strings.HasPrefix(auth, "Digest "))
		params := parseDigestParams(strings.TrimPrefix(auth, "Digest "))
		assert.Equal(t, nonce, params["nonce"])
		assert.Equal(t, "kdab", params["username"])

		ha1 := DigestHA1("kdab", "kdab", "pass42")
		ok := VerifyDigestWithUser(DigestParams{
			Realm:    params["realm"],
			Nonce:    params["nonce"],
			URI:      params["uri"],
			Response: params["response"],
			CNonce:   params["cnonce"],
			NC:       params["nc"],
			QOP:      params["qop"],
		}, "kdab", "POST", ha1)
		assert.True(t, ok, "client-computed digest response should verify")

		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": {`text/xml; charset="utf-8"`}},
			Body: io.NopCloser(bytes.NewBufferString(
				`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
					`<EchoResponse xmlns="urn:test"/></soap:Body></soap:Envelope>`)),
		}, nil
	})

	_, err := c.Call("Echo", NewMessage("Echo"))
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
}

func TestClientCallMultipartResponse(t *testing.T) {
	c := NewClient("http://example.invalid/soap", Version11, nil, nil)

	const boundary = "boundary42"
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.SetBoundary(boundary)
	part, err := mw.CreatePart(map[string][]string{"Content-Type": {"text/xml"}})
	require.NoError(t, err)
	_, err = part.Write([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		`<EchoResponse xmlns="urn:test"><text>multipart-ok</text></EchoResponse></soap:Body></soap:Envelope>`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	c.Transport = RoundTrip(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": {`multipart/related; boundary="` + boundary + `"`}},
			Body:       io.NopCloser(bytes.NewReader(body.Bytes())),
		}, nil
	})

	resp, err := c.Call("Echo", NewMessage("Echo"))
	require.NoError(t, err)
	text, ok := resp.Child("text")
	require.True(t, ok)
	assert.Equal(t, "multipart-ok", text.Text)
}
