package wrappers

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	// TimeLayout is how KDBX 3 documents store timestamps.
	TimeLayout = "2006-01-02T15:04:05Z"

	// Seconds between 0001-01-01 and the Unix epoch. KDBX 4 counts from
	// the former.
	epochOffset = 62135596800
)

// FormatTime writes t in the layout of the given format version.
func FormatTime(t time.Time, binaryTime bool) string {
	t = t.UTC()
	if !binaryTime {
		return t.Format(TimeLayout)
	}
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(t.Unix()+epochOffset))
	return base64.StdEncoding.EncodeToString(b)
}

// ParseTime accepts both the ISO-8601 form and the base64 seconds count,
// so that documents written by either format version can be read.
// An empty string yields the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != 8 {
		return time.Time{}, fmt.Errorf("invalid timestamp '%s'", s)
	}
	secs := int64(binary.LittleEndian.Uint64(b))
	return time.Unix(secs-epochOffset, 0).UTC(), nil
}
