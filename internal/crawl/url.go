package crawl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize standardizes a URL so one page has exactly one comparable form.
// It lowercases the scheme and host, strips default ports, resolves dot
// segments, collapses repeated slashes and preserves a trailing slash, the
// query, and the fragment. Canonicalization is idempotent: applying it to its
// own output is a no-op.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q lacks scheme or host", ErrMalformedURL, rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	switch u.Scheme {
	case "http":
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case "https":
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Path = normalizePath(u.Path)
	u.RawPath = ""

	return u.String(), nil
}

// normalizePath resolves "." and ".." segments and collapses repeated
// slashes while keeping a trailing slash if one was present.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	trailing := strings.HasSuffix(p, "/")
	var out []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			// skip: empty segments collapse repeated slashes
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	res := "/" + strings.Join(out, "/")
	if trailing && res != "/" {
		res += "/"
	}
	return res
}

// HashURL returns the hex SHA-256 digest of a canonical URL. The digest is a
// pure function of the canonical form and is the primary key everywhere.
func HashURL(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Domain extracts the host (without port) from a URL.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SectionKey derives the adaptive-depth section for a URL: the full host when
// it carries more than one subdomain label, otherwise host plus the first
// path segment.
func SectionKey(rawURL string) (string, error) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	host := u.Hostname()
	if strings.Count(host, ".") >= 3 {
		return host, nil
	}
	return host + "/" + firstPathSegment(u.Path), nil
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}
