// Package stamps centralizes the timestamp and identifier formats used by the
// stored documents: UTC ISO-8601 strings with a trailing Z, unix epoch
// conversion for webhook timestamps, and uuid/sha256 helpers.
package stamps

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ISOLayout is the canonical layout for persisted timestamps.
const ISOLayout = "2006-01-02T15:04:05.000000Z"

// ISOSecondsLayout is the second-truncated variant used by case manifests.
const ISOSecondsLayout = "2006-01-02T15:04:05Z"

// NowUTCISO returns the current UTC time in the canonical layout.
func NowUTCISO() string {
	return time.Now().UTC().Format(ISOLayout)
}

// Parse accepts the canonical layout plus common RFC3339 variants. The second
// return value reports whether the input was parseable.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		ISOLayout,
		ISOSecondsLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000000",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// UnixToISO converts a unix-seconds string (WhatsApp webhook timestamps) to
// the canonical layout. Returns "" when the input is not a number.
func UnixToISO(unix string) string {
	sec, err := strconv.ParseInt(strings.TrimSpace(unix), 10, 64)
	if err != nil {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format(ISOLayout)
}

// TruncateSeconds reformats an ISO timestamp to whole seconds with a trailing
// Z. Unparseable input is returned unchanged.
func TruncateSeconds(iso string) string {
	t, ok := Parse(iso)
	if !ok {
		return iso
	}
	return t.Truncate(time.Second).Format(ISOSecondsLayout)
}

// MessageIDStem turns an ISO timestamp into a filesystem-safe identifier stem:
// T becomes _, colons and dots become -, the trailing Z is dropped.
func MessageIDStem(iso string) string {
	stem := strings.TrimSuffix(iso, "Z")
	stem = strings.ReplaceAll(stem, "T", "_")
	stem = strings.ReplaceAll(stem, ":", "-")
	stem = strings.ReplaceAll(stem, ".", "-")
	return stem
}

// NewUUID returns a random uuid4 string.
func NewUUID() string {
	return uuid.NewString()
}

// SHA256Hex returns the lowercase hex sha256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
