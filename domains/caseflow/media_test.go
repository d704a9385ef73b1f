package caseflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaExtension(t *testing.T) {
	assert.Equal(t, ".jpeg", (&MediaData{Mime: "image/jpeg"}).Extension())
	assert.Equal(t, ".ogg", (&MediaData{Mime: "audio/ogg; codecs=opus"}).Extension())
	assert.Equal(t, ".x-unknown", (&MediaData{Mime: "application/x-unknown"}).Extension())
	assert.Equal(t, ".bin", (&MediaData{Mime: "image"}).Extension())
}

func TestMediaDescribe(t *testing.T) {
	mc := &MediaContent{Mime: "image/png", Content: []byte{1, 2, 3}}
	md := mc.Describe()

	assert.Equal(t, "image/png", md.Mime)
	assert.Equal(t, 3, md.Size)
	assert.Len(t, md.SHA256, 64)
	assert.True(t, md.IsImage())
	assert.False(t, (&MediaData{Mime: "audio/ogg"}).IsImage())
}
