package soapd

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// parseAuthorization parses an Authorization header into Credentials per
// spec.md §4.4: Basic (Base64 "user:password") and Digest (qop=auth).
func parseAuthorization(header string) (Credentials, bool) {
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok {
		return Credentials{}, false
	}
	switch {
	case strings.EqualFold(scheme, "Basic"):
		decoded, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return Credentials{}, false
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return Credentials{}, false
		}
		return Credentials{Scheme: "Basic", Username: user, Password: pass}, true
	case strings.EqualFold(scheme, "Digest"):
		params := parseDigestParams(rest)
		return Credentials{Scheme: "Digest", Username: params["username"], Digest: DigestParams{
			Realm:    params["realm"],
			Nonce:    params["nonce"],
			URI:      params["uri"],
			Response: params["response"],
			CNonce:   params["cnonce"],
			NC:       params["nc"],
			QOP:      params["qop"],
		}}, true
	default:
		return Credentials{}, false
	}
}

// parseDigestParams splits a comma-separated key=value (possibly quoted)
// list into a map.
func parseDigestParams(s string) map[string]string {
	out := map[string]string{}
	for _, part := range splitDigestFields(s) {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return out
}

// splitDigestFields splits on commas that are not inside a quoted value.
func splitDigestFields(s string) []string {
	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// DigestHA1 computes HA1 = MD5(username:realm:password) for a given
// username, used by callers that verify against a known-password store.
func DigestHA1(username, realm, password string) string {
	return md5Hex(username + ":" + realm + ":" + password)
}

// VerifyDigestWithUser checks d.Response against the HA1 for username.
func VerifyDigestWithUser(d DigestParams, username, method, ha1 string) bool {
	ha2 := md5Hex(method + ":" + d.URI)
	expected := md5Hex(strings.Join([]string{ha1, d.Nonce, d.NC, d.CNonce, d.QOP, ha2}, ":"))
	return expected == d.Response
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// wwwAuthenticateHeader builds a WWW-Authenticate challenge for a 401
// response, offering Basic and Digest (spec.md §4.4).
func wwwAuthenticateHeader(realm, nonce string) []string {
	return []string{
		fmt.Sprintf(`Basic realm=%q`, realm),
		fmt.Sprintf(`Digest realm=%q, nonce=%q, qop="auth"`, realm, nonce),
	}
}

// nonceCounter is a tiny monotonic source for server-issued Digest nonces.
var nonceCounter int64

func nextNonce() string {
	n := atomic.AddInt64(&nonceCounter, 1)
	return md5Hex(strconv.FormatInt(n, 10) + ":nonce")
}
