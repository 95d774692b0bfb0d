package soapd

import (
	"net/url"
	"strings"
)

// normalizePath implements spec.md §4.5: strip query/fragment, decode %XX,
// collapse consecutive slashes, resolve "." and ".." segments, and report
// ok=false the instant cumulative depth would go negative (the request
// must be rejected with 403 before any file lookup is attempted).
//
// This is the pinned algorithm for Open Question (a) in spec.md §9,
// recorded in DESIGN.md.
func normalizePath(raw string) (clean string, ok bool) {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}

	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}

	segments := strings.Split(decoded, "/")
	var stack []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", false
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, seg)
		}
	}

	return "/" + strings.Join(stack, "/"), true
}
