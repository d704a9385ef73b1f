package stamps

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowUTCISO(t *testing.T) {
	now := NowUTCISO()
	parsed, ok := Parse(now)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(now, "Z"))
	assert.WithinDuration(t, time.Now().UTC(), parsed, 2*time.Second)
}

func TestParseVariants(t *testing.T) {
	cases := []string{
		"2026-08-25T12:34:56.789012Z",
		"2026-08-25T12:34:56Z",
		"2026-08-25T12:34:56.789012+00:00",
		"2026-08-25T12:34:56",
	}
	for _, c := range cases {
		parsed, ok := Parse(c)
		require.True(t, ok, c)
		assert.Equal(t, 2026, parsed.Year())
		assert.Equal(t, 56, parsed.Second())
	}

	_, ok := Parse("")
	assert.False(t, ok)
	_, ok = Parse("not-a-time")
	assert.False(t, ok)
}

func TestUnixToISO(t *testing.T) {
	assert.Equal(t, "2026-08-25T12:00:00.000000Z", UnixToISO("1787659200"))
	assert.Equal(t, "", UnixToISO("soon"))
	assert.Equal(t, "", UnixToISO(""))
}

func TestTruncateSeconds(t *testing.T) {
	assert.Equal(t, "2026-08-25T12:34:56Z", TruncateSeconds("2026-08-25T12:34:56.789012Z"))
	assert.Equal(t, "garbage", TruncateSeconds("garbage"))
}

func TestMessageIDStem(t *testing.T) {
	assert.Equal(t, "2026-08-25_12-34-56-789012", MessageIDStem("2026-08-25T12:34:56.789012Z"))
}

func TestSHA256Hex(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA256Hex(nil))
	assert.Len(t, SHA256Hex([]byte("abc")), 64)
}

func TestNewUUID(t *testing.T) {
	a := NewUUID()
	b := NewUUID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
