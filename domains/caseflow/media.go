package caseflow

import (
	"strings"

	"caseflow/pkg/stamps"
)

// MediaData describes a stored media object without its bytes.
type MediaData struct {
	Mime   string `json:"mime"`
	Name   string `json:"name,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	Size   int    `json:"size,omitempty"`
}

// MediaContent pairs media bytes with their mime type for transport between
// the Cloud API and the store.
type MediaContent struct {
	Mime    string
	Content []byte
}

// Describe builds the MediaData for fetched content, digesting the bytes.
func (mc *MediaContent) Describe() *MediaData {
	return &MediaData{
		Mime:   mc.Mime,
		SHA256: stamps.SHA256Hex(mc.Content),
		Size:   len(mc.Content),
	}
}

// Extension derives the file extension from the mime subtype, ignoring
// parameters such as codecs. Types without a subtype yield ".bin".
func (m *MediaData) Extension() string {
	mime := m.Mime
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if i := strings.IndexByte(mime, '/'); i >= 0 {
		if sub := strings.TrimSpace(mime[i+1:]); sub != "" {
			return "." + sub
		}
	}
	return ".bin"
}

// IsImage reports whether the media can be attached to a provider request as
// an image block.
func (m *MediaData) IsImage() bool {
	return len(m.Mime) >= 6 && m.Mime[:6] == "image/"
}
