package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Folder is the first segment of an object key and names what the object is for.
type Folder string

const (
	FolderProfile        Folder = "perfil"
	FolderPractices      Folder = "praticas"
	FolderManifestations Folder = "manifestacoes"
	FolderTranscripts    Folder = "transcricoes"
	FolderJournal        Folder = "diario"
)

// Folders lists every folder a key may be generated under.
var Folders = []Folder{FolderProfile, FolderPractices, FolderManifestations, FolderTranscripts, FolderJournal}

// ParseFolder validates s against the known folders.
func ParseFolder(s string) (Folder, error) {
	for _, f := range Folders {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unknown folder %q", ErrInvalidInput, s)
}

// NewKey returns "<folder>/<ownerID>/<epochMillis>-<uuid><ext>". The extension
// is taken from filename, lower-cased, and dropped when it is not a plain
// alphanumeric suffix.
func NewKey(folder Folder, ownerID, filename string) (string, error) {
	if folder == "" {
		return "", fmt.Errorf("%w: empty folder", ErrInvalidInput)
	}
	if ownerID == "" || strings.ContainsAny(ownerID, `/\`) || ownerID == "." || ownerID == ".." {
		return "", fmt.Errorf("%w: invalid owner id %q", ErrInvalidInput, ownerID)
	}
	return fmt.Sprintf("%s/%s/%d-%s%s", folder, ownerID, time.Now().UnixMilli(), uuid.NewString(), Ext(filename)), nil
}

// Ext returns the normalized extension of name including the leading dot, or "".
func Ext(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// OwnerOf returns the owner segment of a key built by NewKey.
func OwnerOf(key string) (string, bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// ValidKey rejects empty keys and keys that try to escape their prefix.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
