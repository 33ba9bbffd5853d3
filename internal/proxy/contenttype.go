package proxy

import (
	"mime"
	"strings"
	"time"

	"github.com/despertar/media/internal/storage"
)

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
}

// audioFallbackExts are the extensions whose misses get the client-side fallback body.
var audioFallbackExts = map[string]bool{".mp3": true, ".wav": true, ".ogg": true}

// Presigned URL lifetimes.
const (
	AudioURLTTL   = 2 * time.Hour
	DefaultURLTTL = 24 * time.Hour
)

// ContentTypeFor returns the MIME type implied by key's extension.
func ContentTypeFor(key string) string {
	if ct, ok := contentTypes[storage.Ext(key)]; ok {
		return ct
	}
	return defaultContentType
}

// ResolveContentType prefers the content type stored with the object and
// falls back to the extension table when nothing specific was stored.
func ResolveContentType(key, stored string) string {
	if stored != "" {
		if mt, _, err := mime.ParseMediaType(stored); err == nil && !isGeneric(mt) {
			return stored
		}
	}
	return ContentTypeFor(key)
}

func isGeneric(mediaType string) bool {
	switch strings.ToLower(mediaType) {
	case "application/octet-stream", "binary/octet-stream":
		return true
	}
	return false
}

// IsAudio reports whether a missing key should get the audio fallback body.
func IsAudio(key string) bool {
	return audioFallbackExts[storage.Ext(key)]
}

// TTLFor returns the presigned URL lifetime for key.
func TTLFor(key string) time.Duration {
	if strings.HasPrefix(ContentTypeFor(key), "audio/") {
		return AudioURLTTL
	}
	return DefaultURLTTL
}
