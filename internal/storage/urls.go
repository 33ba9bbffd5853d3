package storage

import (
	"net/url"
	"strings"
)

// ProxyPrefix is the path under which the retrieval proxy serves objects.
// Stored records reference media by this prefix, so it must not change.
const ProxyPrefix = "/api/proxy/minio/"

// URLBuilder turns object keys into the URLs stored in domain records.
type URLBuilder struct {
	publicBase string
}

// NewURLBuilder returns a builder. When publicBase is empty URLs go through the proxy.
func NewURLBuilder(publicBase string) URLBuilder {
	return URLBuilder{publicBase: strings.TrimRight(publicBase, "/")}
}

// PublicURL returns the browser-accessible URL for key.
// Proxy:       "/api/proxy/minio/praticas/42/1699999999999-<uuid>.mp3"
// Public base: "https://cdn.example.com/media/praticas/42/1699999999999-<uuid>.mp3"
func (b URLBuilder) PublicURL(key string) string {
	if b.publicBase != "" {
		return b.publicBase + "/" + key
	}
	return ProxyPrefix + key
}

// KeyFromURL recovers the object key from a URL produced by PublicURL, or
// from a bare key. It reports false when ref points somewhere else.
func (b URLBuilder) KeyFromURL(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if b.publicBase != "" && strings.HasPrefix(ref, b.publicBase+"/") {
		key := strings.TrimPrefix(ref, b.publicBase+"/")
		return key, ValidKey(key)
	}

	p := ref
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		p = u.Path
	}
	if strings.HasPrefix(p, ProxyPrefix) {
		key := strings.TrimPrefix(p, ProxyPrefix)
		return key, ValidKey(key)
	}
	if strings.Contains(ref, "://") || strings.HasPrefix(ref, "/") {
		return "", false
	}
	return ref, ValidKey(ref)
}
