package model

import "strings"

// NormalizePath reduces a location to the path used for page grouping:
// scheme/host, query string and fragment are dropped, a leading slash is
// ensured and a trailing slash trimmed (except for the root).
func NormalizePath(location string) string {
	p := strings.TrimSpace(location)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			p = rest[j:]
		} else {
			p = "/"
		}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
