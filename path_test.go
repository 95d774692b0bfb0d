package soapd

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantOK  bool
	}{
		{"plain", "/path/to/file.txt", "/path/to/file.txt", true},
		{"dot-dot within bounds", "/subdir/../path/to/file.txt", "/path/to/file.txt", true},
		{"dot-dot escapes root", "/../path/to/file.txt", "", false},
		{"leading dot-dot chain", "/../../etc/passwd", "", false},
		{"dot segment collapses", "/a/./b", "/a/b", true},
		{"query string stripped", "/a/b?x=1", "/a/b", true},
		{"fragment stripped", "/a/b#frag", "/a/b", true},
		{"percent-encoded slash", "/a%2Fb", "/a/b", true},
		{"root", "/", "/", true},
		{"nested dot-dot returns to root exactly", "/a/../", "/", true},
		{"one-too-many dot-dot at depth 1", "/a/../..", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := normalizePath(c.raw)
			if ok != c.wantOK {
				t.Fatalf("normalizePath(%q) ok = %v, want %v", c.raw, ok, c.wantOK)
			}
			if ok && got != c.want {
				t.Fatalf("normalizePath(%q) = %q, want %q", c.raw, got, c.want)
			}
		})
	}
}
