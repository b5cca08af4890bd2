// Package extract turns uploaded file blobs into plain text for semantic
// ingestion. The core only consumes plain text; this boundary rejects
// binaries and normalizes what it accepts.
package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxUploadBytes caps accepted uploads.
const MaxUploadBytes = 4 << 20

// textExtensions are the file types accepted for ingestion. Anything
// else is rejected up front rather than heuristically sniffed.
var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".text": true,
	".rst":  true,
	".log":  true,
	".csv":  true,
	".json": true,
	".yaml": true,
	".yml":  true,
	".go":   true,
	".py":   true,
	".js":   true,
	".java": true,
	".c":    true,
	".h":    true,
}

// Text extracts plain text from an uploaded blob. The filename's
// extension gates the accepted formats; the content must be valid UTF-8
// with no NUL bytes.
func Text(filename string, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("empty upload %q", filename)
	}
	if len(blob) > MaxUploadBytes {
		return "", fmt.Errorf("upload %q exceeds %d bytes", filename, MaxUploadBytes)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !textExtensions[ext] {
		return "", fmt.Errorf("unsupported file type %q: plain-text formats only", ext)
	}

	if bytes.IndexByte(blob, 0) >= 0 {
		return "", fmt.Errorf("upload %q looks binary (NUL byte present)", filename)
	}
	if !utf8.Valid(blob) {
		return "", fmt.Errorf("upload %q is not valid UTF-8", filename)
	}

	text := strings.ReplaceAll(string(blob), "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("upload %q contains no text", filename)
	}
	return text, nil
}
